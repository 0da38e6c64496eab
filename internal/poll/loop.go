// Package poll implements the self-rescheduling loops that keep the live
// console in sync with the server.
//
// A loop never waits for its own network call: every cycle launches the tick
// in a goroutine and immediately schedules the next cycle, so slow calls may
// overlap and complete in any order. Consumers of tick results must tolerate
// that.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/livedesk/internal/settings"
)

// DefaultInterval is used if the configuration yields a non-positive interval.
const DefaultInterval = time.Second

// Config is where a loop reads its switch and interval on every cycle.
// *settings.Store satisfies it.
type Config interface {
	Poll(category string) (settings.Poll, bool)
	SetEnabled(category string, enabled bool) error
}

// TickFunc performs one network round. A returned error is logged and
// counted; it never stops the loop.
type TickFunc func(ctx context.Context) error

// Stats are the loop counters.
type Stats struct {
	Cycles    int64 `json:"cycles"`
	Issued    int64 `json:"issued"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithAfter replaces time.After, for tests.
func WithAfter(after func(time.Duration) <-chan time.Time) Option {
	return func(l *Loop) {
		l.after = after
	}
}

// Loop is one self-rescheduling polling task.
type Loop struct {
	name   string
	cfg    Config
	tick   TickFunc
	logger *slog.Logger
	after  func(time.Duration) <-chan time.Time

	running  atomic.Bool
	inflight sync.WaitGroup

	cycles, issued, succeeded, failed, skipped atomic.Int64
}

// New creates the loop for the settings category name.
func New(name string, cfg Config, tick TickFunc, opts ...Option) *Loop {
	l := &Loop{
		name:   name,
		cfg:    cfg,
		tick:   tick,
		logger: slog.Default(),
		after:  time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the settings category of the loop.
func (l *Loop) Name() string {
	return l.name
}

// Run cycles until ctx is cancelled. It returns an error only if the loop is
// already running or its category is unknown.
func (l *Loop) Run(ctx context.Context) error {
	if _, ok := l.cfg.Poll(l.name); !ok {
		return fmt.Errorf("poll: unknown loop %q", l.name)
	}
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("poll: loop %q already running", l.name)
	}
	defer l.running.Store(false)

	l.logger.Info("poll: loop started", slog.String("loop", l.name))
	for {
		l.cycles.Add(1)
		p, _ := l.cfg.Poll(l.name)
		if p.Enabled {
			l.fire(ctx)
		} else {
			l.skipped.Add(1)
		}

		// The interval is read after the tick was issued, so a change made
		// while waiting applies from the following cycle on.
		p, _ = l.cfg.Poll(l.name)
		interval := p.Interval
		if interval <= 0 {
			interval = DefaultInterval
		}

		select {
		case <-ctx.Done():
			l.logger.Info("poll: loop stopped", slog.String("loop", l.name))
			return nil
		case <-l.after(interval):
		}
	}
}

// Start enables the loop. Run must be active for ticks to happen.
func (l *Loop) Start() error {
	return l.cfg.SetEnabled(l.name, true)
}

// Stop disables the loop. Calls already in flight still complete and their
// results are still applied.
func (l *Loop) Stop() error {
	return l.cfg.SetEnabled(l.name, false)
}

// Enabled reports the current switch position.
func (l *Loop) Enabled() bool {
	p, _ := l.cfg.Poll(l.name)
	return p.Enabled
}

// Wait blocks until every issued tick has returned.
func (l *Loop) Wait() {
	l.inflight.Wait()
}

// Stats returns a snapshot of the loop counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Cycles:    l.cycles.Load(),
		Issued:    l.issued.Load(),
		Succeeded: l.succeeded.Load(),
		Failed:    l.failed.Load(),
		Skipped:   l.skipped.Load(),
	}
}

func (l *Loop) fire(ctx context.Context) {
	l.issued.Add(1)
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				l.failed.Add(1)
				l.logger.Error("poll: tick panicked",
					slog.String("loop", l.name), slog.Any("panic", r))
			}
		}()

		if err := l.tick(ctx); err != nil {
			l.failed.Add(1)
			l.logger.Warn("poll: tick failed",
				slog.String("loop", l.name), slog.String("error", err.Error()))
			return
		}
		l.succeeded.Add(1)
	}()
}
