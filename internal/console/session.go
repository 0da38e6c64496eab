// Package console wires the live operator console together: the message
// buffer, the three polling loops, the note editor and the settings that
// drive them.
package console

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/livedesk/internal/editor"
	"github.com/starford/livedesk/internal/logbuf"
	"github.com/starford/livedesk/internal/poll"
	"github.com/starford/livedesk/internal/remote"
	"github.com/starford/livedesk/internal/settings"
	"github.com/starford/livedesk/internal/sse"
)

// Beacon status texts.
const (
	StatusNotResponding = "Server is not responding"
	StatusSuspended     = "Beacon is suspended"
)

// Publisher receives console events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(event sse.Event)
	PublishMessageEvent(event sse.Event, summary sse.Summary)
}

// BeaconStatus is the text shown in the beacon area.
type BeaconStatus struct {
	Text    string    `json:"text"`
	Error   bool      `json:"error"`
	Active  bool      `json:"active"`
	Updated time.Time `json:"updated"`
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger used by the session and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithPublisher sets where console events are sent.
func WithPublisher(p Publisher) Option {
	return func(s *Session) {
		s.publisher = p
	}
}

// WithLoopOptions passes opts to every polling loop.
func WithLoopOptions(opts ...poll.Option) Option {
	return func(s *Session) {
		s.loopOpts = append(s.loopOpts, opts...)
	}
}

// Session is one running console.
type Session struct {
	store     *settings.Store
	client    *remote.Client
	buffer    *logbuf.Buffer
	editor    *editor.Editor
	publisher Publisher
	logger    *slog.Logger
	loopOpts  []poll.Option

	beacon   *poll.Loop
	messages *poll.Loop
	preview  *poll.Loop

	mu     sync.Mutex
	status BeaconStatus
}

// New creates a session. The store should already be loaded.
func New(store *settings.Store, client *remote.Client, opts ...Option) *Session {
	s := &Session{
		store:  store,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.buffer = logbuf.New(store.MaxShow())
	s.buffer.OnChange(s.onBufferChange)
	s.editor = editor.New(client, s.buffer,
		editor.WithLogger(s.logger),
		editor.WithListener(s.onEditorChange),
	)

	loopOpts := append([]poll.Option{poll.WithLogger(s.logger)}, s.loopOpts...)
	s.beacon = poll.New(settings.Beacon, store, s.beaconTick, loopOpts...)
	s.messages = poll.New(settings.Messages, store, s.messagesTick, loopOpts...)
	s.preview = poll.New(settings.Preview, store, s.previewTick, loopOpts...)

	if !store.Beacon().Enabled {
		s.status = BeaconStatus{Text: StatusSuspended, Updated: time.Now()}
	}
	store.Subscribe(s.onSettingChange)
	return s
}

// Buffer returns the message buffer.
func (s *Session) Buffer() *logbuf.Buffer { return s.buffer }

// Editor returns the note editor.
func (s *Session) Editor() *editor.Editor { return s.editor }

// Settings returns the settings store.
func (s *Session) Settings() *settings.Store { return s.store }

// Client returns the notes server client.
func (s *Session) Client() *remote.Client { return s.client }

// Loops returns the polling loops in a fixed order: beacon, messages, preview.
func (s *Session) Loops() []*poll.Loop {
	return []*poll.Loop{s.beacon, s.messages, s.preview}
}

// Loop returns the loop for a settings category.
func (s *Session) Loop(category string) (*poll.Loop, bool) {
	for _, l := range s.Loops() {
		if l.Name() == category {
			return l, true
		}
	}
	return nil, false
}

// Run runs every loop until ctx is cancelled, then waits for in-flight
// calls and renders.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, l := range s.Loops() {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}
	err := g.Wait()
	s.Wait()
	return err
}

// Wait blocks until every issued tick and background render has returned.
func (s *Session) Wait() {
	for _, l := range s.Loops() {
		l.Wait()
	}
	s.editor.Wait()
}

// ToggleLoop flips the switch of the loop for category and returns the new
// position.
func (s *Session) ToggleLoop(category string) (bool, error) {
	if _, ok := s.Loop(category); !ok {
		return false, fmt.Errorf("console: toggle %q: unknown loop", category)
	}
	return s.store.Toggle(category)
}

// BeaconStatus returns the current beacon status.
func (s *Session) BeaconStatus() BeaconStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Active = s.store.Beacon().Enabled
	return st
}

// Post appends a locally generated row to the message buffer.
func (s *Session) Post(level logbuf.Level, text string) (logbuf.Row, bool) {
	return s.buffer.Post(level, text)
}

func (s *Session) beaconTick(ctx context.Context) error {
	b, err := s.client.Beacon(ctx)
	if err != nil {
		s.setStatus(StatusNotResponding, true)
		return fmt.Errorf("console: beacon: %w", err)
	}
	s.setStatus(fmt.Sprintf("%s running on %s is alive at %s", b.Message, b.Hostname, b.Timestamp), false)
	return nil
}

func (s *Session) messagesTick(ctx context.Context) error {
	msgs, err := s.client.Messages(ctx)
	if err != nil {
		s.buffer.Post(logbuf.LevelError, fmt.Sprintf("%s failed: %v", remote.PathMessages, err))
		return fmt.Errorf("console: messages: %w", err)
	}
	for _, m := range msgs {
		s.buffer.Push(logbuf.NewRow(m.Time, logbuf.ParseLevel(m.Level), m.Message))
	}
	return nil
}

func (s *Session) previewTick(ctx context.Context) error {
	return s.editor.RefreshPreview(ctx)
}

// setStatus applies a beacon result. A reply that lands after the beacon
// was suspended leaves the suspended text in place.
func (s *Session) setStatus(text string, isErr bool) {
	s.mu.Lock()
	if !s.store.Beacon().Enabled {
		s.mu.Unlock()
		return
	}
	s.status = BeaconStatus{Text: text, Error: isErr, Updated: time.Now()}
	s.mu.Unlock()
	s.publishStatus()
}

func (s *Session) publishStatus() {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(sse.Event{Type: sse.EventBeaconStatus, Data: s.BeaconStatus()})
}

func (s *Session) onSettingChange(key string) {
	switch key {
	case settings.KeyMessagesMaxShow:
		s.buffer.Resize(s.store.MaxShow())
	case settings.KeyBeaconActive:
		s.mu.Lock()
		if s.store.Beacon().Enabled {
			s.mu.Unlock()
			return
		}
		s.status = BeaconStatus{Text: StatusSuspended, Updated: time.Now()}
		s.mu.Unlock()
		s.publishStatus()
	}
}

func (s *Session) onBufferChange(c logbuf.Change) {
	if s.publisher == nil {
		return
	}
	var ev sse.Event
	switch c.Kind {
	case logbuf.ChangeAdded:
		ev = sse.Event{Type: sse.EventMessageAdded, Data: c.Row}
	case logbuf.ChangeEvicted, logbuf.ChangeRemoved:
		ev = sse.Event{Type: sse.EventMessageRemoved, Data: map[string]any{"ids": c.IDs}}
	case logbuf.ChangeCleared:
		ev = sse.Event{Type: sse.EventMessagesCleared, Data: map[string]any{"ids": c.IDs}}
	default:
		return
	}
	s.publisher.PublishMessageEvent(ev, sse.Summary{Size: c.Len, Visible: c.Visible})
}

func (s *Session) onEditorChange(kind string, snap editor.Snapshot) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(sse.Event{Type: kind, Data: snap})
}
