package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/starford/livedesk/internal/apperr"
	"github.com/starford/livedesk/internal/logbuf"
)

type fakeBackend struct {
	mu        sync.Mutex
	renders   []string
	saves     int
	renames   []string
	saveErr   error
	renderErr error
	// gates, when set, holds the render of a given text until closed.
	gates map[string]chan struct{}
}

func (f *fakeBackend) Render(_ context.Context, markup string) (string, error) {
	f.mu.Lock()
	f.renders = append(f.renders, markup)
	gate := f.gates[markup]
	err := f.renderErr
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return "<p>" + markup + "</p>", nil
}

func (f *fakeBackend) SaveNote(_ context.Context, _ int64, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return f.saveErr
}

func (f *fakeBackend) RenameNote(_ context.Context, _ int64, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, title)
	return nil
}

func (f *fakeBackend) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders)
}

var testNote = Note{ID: 7, Title: "Groceries", Markup: "milk", Body: "<p>milk</p>", Revision: 3}

func testEditor(t *testing.T) (*Editor, *fakeBackend, *logbuf.Buffer) {
	t.Helper()
	be := &fakeBackend{gates: make(map[string]chan struct{})}
	buf := logbuf.New(50)
	e := New(be, buf)
	if err := e.Open(testNote); err != nil {
		t.Fatal(err)
	}
	return e, be, buf
}

func TestBegin_RequiresOpenNote(t *testing.T) {
	e := New(&fakeBackend{}, nil)
	if err := e.Begin(); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestInput_OutsideEditing(t *testing.T) {
	e, _, _ := testEditor(t)
	if _, err := e.Input(context.Background(), "x"); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if err := e.Save(context.Background()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("save err = %v", err)
	}
	if err := e.Cancel(); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("cancel err = %v", err)
	}
}

func TestInput_EditAndRevertRendersTwice(t *testing.T) {
	e, be, buf := testEditor(t)
	if err := e.Begin(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	changed, _ := e.Input(ctx, "milk, eggs")
	if !changed {
		t.Fatal("edit not detected")
	}
	e.Wait()
	if !e.Dirty() {
		t.Error("editor should be dirty after an edit")
	}

	changed, _ = e.Input(ctx, "milk")
	if !changed {
		t.Fatal("revert not detected")
	}
	e.Wait()
	if be.renderCount() != 2 {
		t.Errorf("renders = %d, want 2", be.renderCount())
	}
	if e.Dirty() {
		t.Error("reverted text should not be dirty")
	}
	if got := e.Snapshot().Preview; got != "<p>milk</p>" {
		t.Errorf("preview = %q", got)
	}

	// Same text again: anomaly, no render.
	changed, _ = e.Input(ctx, "milk")
	e.Wait()
	if changed || be.renderCount() != 2 {
		t.Errorf("no-op input rendered: changed=%v renders=%d", changed, be.renderCount())
	}
	if buf.Len() != 1 || buf.Rows()[0].Level != logbuf.LevelError {
		t.Errorf("anomaly row missing: %+v", buf.Rows())
	}
}

func TestInput_EmptyTextNoRender(t *testing.T) {
	e, be, _ := testEditor(t)
	_ = e.Begin()
	changed, _ := e.Input(context.Background(), "")
	e.Wait()
	if !changed || be.renderCount() != 0 {
		t.Errorf("changed=%v renders=%d", changed, be.renderCount())
	}
}

func TestInput_StaleRenderDropped(t *testing.T) {
	e, be, _ := testEditor(t)
	_ = e.Begin()
	slow := make(chan struct{})
	be.gates["first"] = slow

	_, _ = e.Input(context.Background(), "first")
	_, _ = e.Input(context.Background(), "second")
	// Let the newer render land first, then release the older one.
	deadline := time.Now().Add(2 * time.Second)
	for e.Snapshot().Preview != "<p>second</p>" {
		if time.Now().After(deadline) {
			t.Fatal("newer render never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(slow)
	e.Wait()

	if got := e.Snapshot().Preview; got != "<p>second</p>" {
		t.Errorf("preview = %q, stale render applied", got)
	}
}

func TestInput_RenderFailureKeepsPreview(t *testing.T) {
	e, be, buf := testEditor(t)
	_ = e.Begin()
	be.renderErr = errors.New("boom")
	_, _ = e.Input(context.Background(), "eggs")
	e.Wait()
	if got := e.Snapshot().Preview; got != testNote.Body {
		t.Errorf("preview = %q, want previous preview", got)
	}
	if buf.Len() != 1 {
		t.Errorf("expected an error row, got %d rows", buf.Len())
	}
}

func TestInput_RenderFailureAfterCancelNotReported(t *testing.T) {
	e, be, buf := testEditor(t)
	_ = e.Begin()
	be.renderErr = errors.New("boom")
	slow := make(chan struct{})
	be.gates["eggs"] = slow

	if changed, err := e.Input(context.Background(), "eggs"); !changed || err != nil {
		t.Fatalf("input = %v, %v", changed, err)
	}
	if err := e.Cancel(); err != nil {
		t.Fatal(err)
	}
	close(slow)
	e.Wait()

	if buf.Len() != 0 {
		t.Errorf("render failure of an ended session was reported: %v", buf.Rows())
	}
}

func TestCancel_RestoresOriginal(t *testing.T) {
	e, be, _ := testEditor(t)
	_ = e.Begin()
	for _, s := range []string{"a", "ab", "abc", ""} {
		_, _ = e.Input(context.Background(), s)
	}
	e.Wait()
	rendersBefore := be.renderCount()

	if err := e.Cancel(); err != nil {
		t.Fatal(err)
	}
	snap := e.Snapshot()
	if snap.Note.Body != testNote.Body || snap.Text != testNote.Markup {
		t.Errorf("after cancel: body=%q text=%q", snap.Note.Body, snap.Text)
	}
	if snap.State != "viewing" || snap.Dirty {
		t.Errorf("state=%s dirty=%v", snap.State, snap.Dirty)
	}
	if be.renderCount() != rendersBefore {
		t.Error("cancel issued a server call")
	}
}

func TestSave_IncrementsRevisionOnce(t *testing.T) {
	e, be, _ := testEditor(t)
	_ = e.Begin()
	_, _ = e.Input(context.Background(), "milk, bread")
	e.Wait()

	if err := e.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap := e.Snapshot()
	if snap.Note.Revision != testNote.Revision+1 {
		t.Errorf("revision = %d, want %d", snap.Note.Revision, testNote.Revision+1)
	}
	if snap.Note.Markup != "milk, bread" || snap.Note.Body != "<p>milk, bread</p>" {
		t.Errorf("note = %+v", snap.Note)
	}
	if snap.State != "viewing" || snap.Dirty {
		t.Errorf("state=%s dirty=%v", snap.State, snap.Dirty)
	}
	if snap.Note.Modified.IsZero() {
		t.Error("modification time not set")
	}
	if be.saves != 1 {
		t.Errorf("saves = %d", be.saves)
	}
	// A second save without an edit session is rejected.
	if err := e.Save(context.Background()); !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v", err)
	}
	if e.Revision() != testNote.Revision+1 {
		t.Errorf("revision moved to %d", e.Revision())
	}
}

func TestSave_ConcurrentSavesSerialized(t *testing.T) {
	e, _, _ := testEditor(t)
	_ = e.Begin()
	_, _ = e.Input(context.Background(), "x")
	e.Wait()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Save(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful saves = %d, want 1", ok)
	}
	if e.Revision() != testNote.Revision+1 {
		t.Errorf("revision = %d", e.Revision())
	}
}

func TestSave_FailureRestores(t *testing.T) {
	e, be, buf := testEditor(t)
	be.saveErr = errors.New("disk full")
	_ = e.Begin()
	_, _ = e.Input(context.Background(), "changed")
	e.Wait()

	if err := e.Save(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
	snap := e.Snapshot()
	if snap.Note.Body != testNote.Body || snap.Note.Revision != testNote.Revision {
		t.Errorf("note = %+v", snap.Note)
	}
	if snap.State != "viewing" {
		t.Errorf("state = %s", snap.State)
	}
	if buf.Len() == 0 {
		t.Error("failure not surfaced")
	}
}

func TestRename(t *testing.T) {
	e, be, _ := testEditor(t)
	called, err := e.Rename(context.Background(), " Groceries ")
	if err != nil || called {
		t.Errorf("unchanged title: called=%v err=%v", called, err)
	}
	called, err = e.Rename(context.Background(), "Shopping")
	if err != nil || !called {
		t.Fatalf("rename: called=%v err=%v", called, err)
	}
	if e.Snapshot().Note.Title != "Shopping" || len(be.renames) != 1 {
		t.Errorf("title = %q, renames = %v", e.Snapshot().Note.Title, be.renames)
	}
}

func TestRefreshPreview(t *testing.T) {
	e, be, _ := testEditor(t)
	if err := e.RefreshPreview(context.Background()); err != nil || be.renderCount() != 0 {
		t.Fatal("refresh outside edit session should do nothing")
	}
	_ = e.Begin()
	if err := e.RefreshPreview(context.Background()); err != nil {
		t.Fatal(err)
	}
	if be.renderCount() != 1 || e.Snapshot().Preview != "<p>milk</p>" {
		t.Errorf("renders=%d preview=%q", be.renderCount(), e.Snapshot().Preview)
	}
}

func TestListener(t *testing.T) {
	be := &fakeBackend{}
	var mu sync.Mutex
	var kinds []string
	e := New(be, nil, WithListener(func(kind string, _ Snapshot) {
		mu.Lock()
		kinds = append(kinds, kind)
		mu.Unlock()
	}))
	_ = e.Open(testNote)
	_ = e.Begin()
	_, _ = e.Input(context.Background(), "tea")
	e.Wait()
	_ = e.Cancel()

	mu.Lock()
	defer mu.Unlock()
	want := []string{EventNote, EventPreview, EventNote}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
		}
	}
}
