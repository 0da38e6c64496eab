// Package settings holds the operator-facing configuration of the live
// console (loop switches, intervals, message panel size) and persists it to
// durable client storage.
package settings

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/livedesk/internal/apperr"
	"github.com/starford/livedesk/internal/storage"
)

// Categories.
const (
	Beacon   = "beacon"
	Messages = "messages"
	Preview  = "preview"
)

// Keys, namespaced as "<category>.<attribute>".
const (
	KeyBeaconActive     = "beacon.active"
	KeyBeaconInterval   = "beacon.interval"
	KeyMessagesEnabled  = "messages.queryEnabled"
	KeyMessagesInterval = "messages.interval"
	KeyMessagesMaxShow  = "messages.maxShow"
	KeyPreviewActive    = "preview.active"
	KeyPreviewInterval  = "preview.interval"
)

type kind int

const (
	kindBool kind = iota
	kindInt
)

// Upper bounds for numeric settings.
const (
	MaxIntervalMs = 24 * 60 * 60 * 1000
	MaxShowLimit  = 10000
)

type entry struct {
	key  string
	kind kind
	def  int // 0/1 for booleans
	max  int
	// writeBack stores the default when the key is missing on load.
	writeBack bool
}

var entries = []entry{
	{key: KeyBeaconActive, kind: kindBool},
	{key: KeyBeaconInterval, kind: kindInt, def: 1000, max: MaxIntervalMs},
	{key: KeyMessagesEnabled, kind: kindBool, writeBack: true},
	{key: KeyMessagesInterval, kind: kindInt, def: 5000, max: MaxIntervalMs},
	{key: KeyMessagesMaxShow, kind: kindInt, def: 25, max: MaxShowLimit},
	{key: KeyPreviewActive, kind: kindBool},
	{key: KeyPreviewInterval, kind: kindInt, def: 2500, max: MaxIntervalMs},
}

var enabledKeys = map[string]string{
	Beacon:   KeyBeaconActive,
	Messages: KeyMessagesEnabled,
	Preview:  KeyPreviewActive,
}

var intervalKeys = map[string]string{
	Beacon:   KeyBeaconInterval,
	Messages: KeyMessagesInterval,
	Preview:  KeyPreviewInterval,
}

func lookup(key string) (entry, bool) {
	for _, e := range entries {
		if e.key == key {
			return e, true
		}
	}
	return entry{}, false
}

// Poll is the configuration of one polling loop.
type Poll struct {
	Enabled  bool
	Interval time.Duration
}

// ChangeFunc is called with the key of every value that changed.
type ChangeFunc func(key string)

// Store is the process-wide settings object. It is constructed once at
// startup and passed to the components that read it.
type Store struct {
	kv     storage.KV
	logger *slog.Logger

	mu       sync.RWMutex
	values   map[string]int
	watchers []ChangeFunc

	// toggleMu makes the read and write of a Toggle one step.
	toggleMu sync.Mutex
}

// New creates a store backed by kv, holding the defaults until Load runs.
func New(kv storage.KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:     kv,
		logger: logger,
		values: make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		s.values[e.key] = e.def
	}
	return s
}

// Subscribe registers fn to be told about changed keys.
func (s *Store) Subscribe(fn ChangeFunc) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
}

// Load populates the store from durable storage. Missing or invalid entries
// fall back to their defaults.
func (s *Store) Load() error {
	stored, err := s.kv.All()
	if err != nil {
		return fmt.Errorf("settings: load: %w", err)
	}

	next := make(map[string]int, len(entries))
	for _, e := range entries {
		raw, ok := stored[e.key]
		if !ok {
			next[e.key] = e.def
			if e.writeBack {
				if err := s.kv.Set(e.key, encode(e, e.def)); err != nil {
					s.logger.Warn("settings: write default failed",
						slog.String("key", e.key), slog.String("error", err.Error()))
				}
			}
			continue
		}
		v, err := decode(e, raw)
		if err != nil {
			s.logger.Warn("settings: invalid stored value, using default",
				slog.String("key", e.key), slog.String("value", raw))
			v = e.def
		}
		next[e.key] = v
	}

	s.mu.Lock()
	var changed []string
	for k, v := range next {
		if s.values[k] != v {
			changed = append(changed, k)
		}
	}
	s.values = next
	watchers := append([]ChangeFunc(nil), s.watchers...)
	s.mu.Unlock()

	sort.Strings(changed)
	for _, k := range changed {
		for _, fn := range watchers {
			fn(k)
		}
	}
	return nil
}

// Save validates value, writes it through to storage and updates the store.
// Unknown keys and invalid values are logged and reported as errors; they
// never leave the store partially updated.
func (s *Store) Save(category, attribute string, value any) error {
	key := category + "." + attribute
	e, ok := lookup(key)
	if !ok {
		s.logger.Warn("settings: invalid setting", slog.String("key", key))
		return fmt.Errorf("settings: %s: %w", key, apperr.ErrUnknownSetting)
	}
	v, err := coerce(e, value)
	if err != nil {
		s.logger.Warn("settings: invalid value",
			slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("settings: %s: %w: %w", key, apperr.ErrInvalidValue, err)
	}

	s.mu.Lock()
	if err := s.kv.Set(key, encode(e, v)); err != nil {
		s.mu.Unlock()
		s.logger.Error("settings: write failed",
			slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("settings: save %s: %w", key, err)
	}
	changed := s.values[key] != v
	s.values[key] = v
	watchers := append([]ChangeFunc(nil), s.watchers...)
	s.mu.Unlock()

	if changed {
		for _, fn := range watchers {
			fn(key)
		}
	}
	return nil
}

// SaveKey is Save addressed by a full "<category>.<attribute>" key.
func (s *Store) SaveKey(key string, value any) error {
	category, attribute, ok := strings.Cut(key, ".")
	if !ok {
		s.logger.Warn("settings: invalid setting", slog.String("key", key))
		return fmt.Errorf("settings: %s: %w", key, apperr.ErrUnknownSetting)
	}
	return s.Save(category, attribute, value)
}

// Toggle flips the enabled flag of a loop category and returns the new value.
func (s *Store) Toggle(category string) (bool, error) {
	key, ok := enabledKeys[category]
	if !ok {
		s.logger.Warn("settings: invalid category", slog.String("category", category))
		return false, fmt.Errorf("settings: %s: %w", category, apperr.ErrUnknownSetting)
	}
	s.toggleMu.Lock()
	defer s.toggleMu.Unlock()

	s.mu.RLock()
	next := s.values[key] == 0
	s.mu.RUnlock()
	if err := s.SaveKey(key, next); err != nil {
		return !next, err
	}
	return next, nil
}

// SetEnabled sets the enabled flag of a loop category.
func (s *Store) SetEnabled(category string, enabled bool) error {
	key, ok := enabledKeys[category]
	if !ok {
		return fmt.Errorf("settings: %s: %w", category, apperr.ErrUnknownSetting)
	}
	return s.SaveKey(key, enabled)
}

// Poll returns the loop configuration of category.
func (s *Store) Poll(category string) (Poll, bool) {
	ek, ok := enabledKeys[category]
	if !ok {
		return Poll{}, false
	}
	ik := intervalKeys[category]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Poll{
		Enabled:  s.values[ek] != 0,
		Interval: time.Duration(s.values[ik]) * time.Millisecond,
	}, true
}

// Beacon returns the heartbeat loop configuration.
func (s *Store) Beacon() Poll {
	p, _ := s.Poll(Beacon)
	return p
}

// Messages returns the message refresh loop configuration.
func (s *Store) Messages() Poll {
	p, _ := s.Poll(Messages)
	return p
}

// Preview returns the preview refresh loop configuration.
func (s *Store) Preview() Poll {
	p, _ := s.Poll(Preview)
	return p
}

// MaxShow returns the capacity of the message panel.
func (s *Store) MaxShow() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[KeyMessagesMaxShow]
}

// Snapshot returns every setting grouped by category, booleans as bool and
// numbers as int.
func (s *Store) Snapshot() map[string]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]any)
	for _, e := range entries {
		category, attribute, _ := strings.Cut(e.key, ".")
		if out[category] == nil {
			out[category] = make(map[string]any)
		}
		if e.kind == kindBool {
			out[category][attribute] = s.values[e.key] != 0
		} else {
			out[category][attribute] = s.values[e.key]
		}
	}
	return out
}

func encode(e entry, v int) string {
	if e.kind == kindBool {
		return strconv.FormatBool(v != 0)
	}
	return strconv.Itoa(v)
}

func decode(e entry, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if e.kind == kindBool {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, err
		}
		return boolInt(b), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return n, validateInt(e, n)
}

// coerce converts a value from the API, MCP or a caller to the stored form.
func coerce(e entry, value any) (int, error) {
	if e.kind == kindBool {
		switch v := value.(type) {
		case bool:
			return boolInt(v), nil
		case string:
			return decode(e, v)
		default:
			return 0, fmt.Errorf("expected boolean, got %T", value)
		}
	}

	var n int
	switch v := value.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}
		n = int(v)
	case time.Duration:
		n = int(v / time.Millisecond)
	case string:
		return decode(e, v)
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
	return n, validateInt(e, n)
}

func validateInt(e entry, n int) error {
	return validation.Validate(n, validation.Required, validation.Min(1), validation.Max(e.max))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
