// Package editor implements the note edit session: checksum based change
// detection driving preview renders, and saves guarded by a client-side
// revision counter.
package editor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/starford/livedesk/internal/apperr"
	"github.com/starford/livedesk/internal/checksum"
	"github.com/starford/livedesk/internal/logbuf"
)

// Event kinds passed to the Listener.
const (
	EventPreview = "preview.updated"
	EventNote    = "note.updated"
)

// State is the edit session state.
type State int

const (
	Viewing State = iota
	Editing
	Saving
)

func (s State) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case Editing:
		return "editing"
	case Saving:
		return "saving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Backend is the server side of the editor. *remote.Client satisfies it.
type Backend interface {
	Render(ctx context.Context, markup string) (string, error)
	SaveNote(ctx context.Context, id int64, title, body string) error
	RenameNote(ctx context.Context, id int64, title string) error
}

// Sink receives user-visible diagnostics. *logbuf.Buffer satisfies it.
type Sink interface {
	Post(level logbuf.Level, text string) (logbuf.Row, bool)
}

// Listener is told about preview and note changes.
type Listener func(kind string, snap Snapshot)

// Note is the note open in the editor.
type Note struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Markup   string    `json:"markup"`
	Body     string    `json:"body"` // rendered HTML
	Revision int       `json:"revision"`
	Modified time.Time `json:"modified"`
}

// Snapshot is a copy of the editor state.
type Snapshot struct {
	State   string `json:"state"`
	Note    Note   `json:"note"`
	Text    string `json:"text"`
	Preview string `json:"preview"`
	Dirty   bool   `json:"dirty"`
}

// Option configures an Editor.
type Option func(*Editor)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		e.logger = logger
	}
}

// WithListener registers fn for preview and note changes.
func WithListener(fn Listener) Option {
	return func(e *Editor) {
		e.listener = fn
	}
}

// Editor holds the edit state of one note. Safe for concurrent use; no lock
// is held across a server call.
type Editor struct {
	backend  Backend
	sink     Sink
	logger   *slog.Logger
	listener Listener
	now      func() time.Time

	mu            sync.Mutex
	state         State
	note          Note
	originalBody  string
	text          string
	lastChecksum  string
	savedChecksum string
	preview       string
	// session changes whenever an edit session begins or ends, so renders
	// issued by an earlier session are dropped.
	session    uint64
	renderSeq  uint64
	appliedSeq uint64

	renders sync.WaitGroup
}

// New creates an editor with no note open.
func New(backend Backend, sink Sink, opts ...Option) *Editor {
	e := &Editor{
		backend: backend,
		sink:    sink,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open loads n in the Viewing state, discarding any edit in progress.
func (e *Editor) Open(n Note) error {
	e.mu.Lock()
	if e.state == Saving {
		e.mu.Unlock()
		return fmt.Errorf("editor: open while saving: %w", apperr.ErrInvalidTransition)
	}
	e.note = n
	e.savedChecksum = checksum.String(n.Markup)
	e.resetLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(EventNote, snap)
	return nil
}

// Begin starts an edit session on the open note.
func (e *Editor) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.note.ID == 0 {
		return fmt.Errorf("editor: no note open: %w", apperr.ErrNotFound)
	}
	if e.state != Viewing {
		return fmt.Errorf("editor: begin while %s: %w", e.state, apperr.ErrInvalidTransition)
	}
	e.originalBody = e.note.Body
	e.text = e.note.Markup
	e.lastChecksum = e.savedChecksum
	e.preview = e.note.Body
	e.state = Editing
	e.session++
	return nil
}

// Input records the current editor text. It reports whether the text
// differs from the previous input. A change with non-empty text issues a
// render in the background; its result replaces the preview unless a newer
// render has already been applied.
func (e *Editor) Input(ctx context.Context, text string) (bool, error) {
	e.mu.Lock()
	if e.state != Editing {
		st := e.state
		e.mu.Unlock()
		return false, fmt.Errorf("editor: input while %s: %w", st, apperr.ErrInvalidTransition)
	}
	sum := checksum.String(text)
	if sum == e.lastChecksum {
		id := e.note.ID
		e.mu.Unlock()
		e.logger.Warn("editor: input without change", slog.Int64("note_id", id))
		e.report("Input was reported for Note %d, but its text has not changed", id)
		return false, nil
	}
	e.lastChecksum = sum
	e.text = text
	if text == "" {
		e.mu.Unlock()
		return true, nil
	}
	e.renderSeq++
	seq, session := e.renderSeq, e.session
	e.mu.Unlock()

	e.renders.Add(1)
	go func() {
		defer e.renders.Done()
		html, err := e.backend.Render(context.WithoutCancel(ctx), text)
		e.applyRender(session, seq, html, err)
	}()
	return true, nil
}

// RefreshPreview renders the current text synchronously. It does nothing
// outside an edit session or for empty text.
func (e *Editor) RefreshPreview(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Editing || e.text == "" {
		e.mu.Unlock()
		return nil
	}
	e.renderSeq++
	seq, session, text := e.renderSeq, e.session, e.text
	e.mu.Unlock()

	html, err := e.backend.Render(ctx, text)
	e.applyRender(session, seq, html, err)
	return err
}

// Save sends the edited text. On success the revision grows by exactly one
// and the canonical body is re-rendered; on failure the original body is
// restored. Either way the editor returns to Viewing.
func (e *Editor) Save(ctx context.Context) error {
	e.mu.Lock()
	if e.state != Editing {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("editor: save while %s: %w", st, apperr.ErrInvalidTransition)
	}
	e.state = Saving
	id, title, body := e.note.ID, e.note.Title, e.text
	e.mu.Unlock()

	if err := e.backend.SaveNote(ctx, id, title, body); err != nil {
		e.mu.Lock()
		e.note.Body = e.originalBody
		e.resetLocked()
		snap := e.snapshotLocked()
		e.mu.Unlock()

		e.logger.Error("editor: save failed", slog.Int64("note_id", id), slog.String("error", err.Error()))
		e.report("Saving Note %d failed: %v", id, err)
		e.notify(EventNote, snap)
		return fmt.Errorf("editor: save note %d: %w", id, err)
	}

	e.mu.Lock()
	e.note.Revision++
	e.note.Markup = body
	e.note.Modified = e.now()
	e.savedChecksum = checksum.String(body)
	e.resetLocked()
	rev := e.note.Revision
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(EventNote, snap)

	html, err := e.backend.Render(ctx, body)
	if err != nil {
		e.logger.Warn("editor: render after save failed", slog.Int64("note_id", id), slog.String("error", err.Error()))
		e.report("Cannot render Note %d to HTML: %v", id, err)
		return nil
	}
	e.mu.Lock()
	if e.note.ID != id || e.note.Revision != rev {
		e.mu.Unlock()
		return nil
	}
	e.note.Body = html
	if e.state == Editing {
		e.originalBody = html
	}
	snap = e.snapshotLocked()
	e.mu.Unlock()
	e.notify(EventNote, snap)
	return nil
}

// Cancel ends the edit session, restoring the body as it was when the
// session began. No server call is made.
func (e *Editor) Cancel() error {
	e.mu.Lock()
	if e.state != Editing {
		st := e.state
		e.mu.Unlock()
		return fmt.Errorf("editor: cancel while %s: %w", st, apperr.ErrInvalidTransition)
	}
	e.note.Body = e.originalBody
	e.resetLocked()
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(EventNote, snap)
	return nil
}

// Rename changes the note title. It reports whether a server call was made;
// an unchanged title is a no-op.
func (e *Editor) Rename(ctx context.Context, title string) (bool, error) {
	title = strings.TrimSpace(title)
	e.mu.Lock()
	id, old := e.note.ID, e.note.Title
	e.mu.Unlock()

	if id == 0 {
		return false, fmt.Errorf("editor: no note open: %w", apperr.ErrNotFound)
	}
	if title == old {
		return false, nil
	}
	if err := e.backend.RenameNote(ctx, id, title); err != nil {
		e.report("Updating title of Note %d failed: %v", id, err)
		return true, fmt.Errorf("editor: rename note %d: %w", id, err)
	}

	e.mu.Lock()
	if e.note.ID == id {
		e.note.Title = title
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.notify(EventNote, snap)
	return true, nil
}

// State returns the current state.
func (e *Editor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Dirty reports whether the text being edited differs from the saved markup.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirtyLocked()
}

// Revision returns the revision of the open note as known to the client.
func (e *Editor) Revision() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.note.Revision
}

// Snapshot returns a copy of the editor state.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Wait blocks until every background render has completed.
func (e *Editor) Wait() {
	e.renders.Wait()
}

func (e *Editor) applyRender(session, seq uint64, html string, err error) {
	e.mu.Lock()
	if session != e.session || e.state != Editing {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("editor: render failed", slog.String("error", err.Error()))
		e.report("Rendering Note text failed: %v", err)
		return
	}
	if seq < e.appliedSeq {
		e.mu.Unlock()
		e.logger.Debug("editor: dropped stale render", slog.Uint64("seq", seq))
		return
	}
	e.appliedSeq = seq
	e.preview = html
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.notify(EventPreview, snap)
}

// resetLocked returns to Viewing with the editor text matching the saved
// markup and ends the current session.
func (e *Editor) resetLocked() {
	e.state = Viewing
	e.originalBody = ""
	e.text = e.note.Markup
	e.lastChecksum = e.savedChecksum
	e.preview = ""
	e.session++
}

func (e *Editor) dirtyLocked() bool {
	return e.state != Viewing && e.lastChecksum != e.savedChecksum
}

func (e *Editor) snapshotLocked() Snapshot {
	return Snapshot{
		State:   e.state.String(),
		Note:    e.note,
		Text:    e.text,
		Preview: e.preview,
		Dirty:   e.dirtyLocked(),
	}
}

func (e *Editor) report(format string, args ...any) {
	if e.sink == nil {
		return
	}
	e.sink.Post(logbuf.LevelError, fmt.Sprintf(format, args...))
}

func (e *Editor) notify(kind string, snap Snapshot) {
	if e.listener != nil {
		e.listener(kind, snap)
	}
}
