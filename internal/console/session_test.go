package console

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/livedesk/internal/editor"
	"github.com/starford/livedesk/internal/logbuf"
	"github.com/starford/livedesk/internal/remote"
	"github.com/starford/livedesk/internal/settings"
	"github.com/starford/livedesk/internal/sse"
	"github.com/starford/livedesk/internal/testutil"
)

type recorder struct {
	mu        sync.Mutex
	events    []sse.Event
	summaries []sse.Summary
}

func (r *recorder) Publish(ev sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) PublishMessageEvent(ev sse.Event, sum sse.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.summaries = append(r.summaries, sum)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func newSession(t *testing.T) (*Session, *testutil.Server, *recorder) {
	t.Helper()
	srv := testutil.NewServer(t)
	store := settings.New(testutil.TempKV(t), testutil.Logger())
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	s := New(store, remote.NewClient(srv.URL, time.Second),
		WithLogger(testutil.Logger()),
		WithPublisher(rec),
	)
	return s, srv, rec
}

func TestBeaconTick(t *testing.T) {
	s, srv, rec := newSession(t)
	if st := s.BeaconStatus(); st.Text != StatusSuspended || st.Active {
		t.Fatalf("initial status = %+v", st)
	}
	if _, err := s.ToggleLoop(settings.Beacon); err != nil {
		t.Fatal(err)
	}

	if err := s.beaconTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := s.BeaconStatus()
	if !strings.HasPrefix(st.Text, "ticker running on testhost is alive at ") || st.Error || !st.Active {
		t.Errorf("status = %+v", st)
	}

	srv.Fail(remote.PathBeacon, true)
	if err := s.beaconTick(context.Background()); err == nil {
		t.Fatal("expected beacon error")
	}
	st = s.BeaconStatus()
	if st.Text != StatusNotResponding || !st.Error {
		t.Errorf("status = %+v", st)
	}
	if rec.count(sse.EventBeaconStatus) != 2 {
		t.Errorf("events = %v", rec.types())
	}
}

func TestBeaconToggleOff_Suspends(t *testing.T) {
	s, _, _ := newSession(t)
	_ = s.store.SetEnabled(settings.Beacon, true)
	_ = s.beaconTick(context.Background())

	active, err := s.ToggleLoop(settings.Beacon)
	if err != nil || active {
		t.Fatalf("toggle = %v, %v", active, err)
	}
	if st := s.BeaconStatus(); st.Text != StatusSuspended || st.Error {
		t.Errorf("status = %+v", st)
	}
	// A reply landing after suspension does not overwrite the text.
	_ = s.beaconTick(context.Background())
	if st := s.BeaconStatus(); st.Text != StatusSuspended {
		t.Errorf("late reply applied: %+v", st)
	}
}

func TestBeaconReplyRacingSuspend(t *testing.T) {
	s, _, _ := newSession(t)
	for i := 0; i < 50; i++ {
		if err := s.store.SetEnabled(settings.Beacon, true); err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.setStatus("ticker running on testhost is alive at now", false)
		}()
		go func() {
			defer wg.Done()
			_ = s.store.SetEnabled(settings.Beacon, false)
		}()
		wg.Wait()

		if st := s.BeaconStatus(); st.Text != StatusSuspended || st.Active {
			t.Fatalf("iteration %d: status = %+v", i, st)
		}
	}
}

func TestMessagesTick(t *testing.T) {
	s, srv, rec := newSession(t)
	msg := remote.Message{Time: "2024-01-01 10:00:00", Level: "WARN", Message: "disk almost full"}
	srv.Queue(msg, msg)

	if err := s.messagesTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	rows := s.Buffer().Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %+v, duplicates must collapse", rows)
	}
	if rows[0].ID != logbuf.RowID(msg.Time, logbuf.LevelWarn, msg.Message) {
		t.Errorf("row id = %s", rows[0].ID)
	}
	if rec.count(sse.EventMessageAdded) != 1 {
		t.Errorf("events = %v", rec.types())
	}

	srv.Fail(remote.PathMessages, true)
	if err := s.messagesTick(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	rows = s.Buffer().Rows()
	if len(rows) != 2 || rows[0].Level != logbuf.LevelError || !strings.Contains(rows[0].Text, remote.PathMessages) {
		t.Errorf("failure row missing: %+v", rows)
	}
}

func TestMaxShowResizesBuffer(t *testing.T) {
	s, _, rec := newSession(t)
	for i := 0; i < 5; i++ {
		s.Post(logbuf.LevelInfo, strings.Repeat("x", i+1))
	}
	if err := s.store.Save(settings.Messages, "maxShow", 2); err != nil {
		t.Fatal(err)
	}
	if s.Buffer().Capacity() != 2 || s.Buffer().Len() != 2 {
		t.Errorf("capacity=%d len=%d", s.Buffer().Capacity(), s.Buffer().Len())
	}
	rec.mu.Lock()
	last := rec.summaries[len(rec.summaries)-1]
	rec.mu.Unlock()
	if last.Size != 2 || !last.Visible {
		t.Errorf("summary = %+v", last)
	}
}

func TestPreviewTick(t *testing.T) {
	s, srv, rec := newSession(t)
	ed := s.Editor()
	_ = ed.Open(editor.Note{ID: 1, Title: "t", Markup: "hello", Body: "<p>hello</p>"})

	// Outside an edit session the tick does nothing.
	if err := s.previewTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if srv.Calls(remote.PathRenderNote) != 0 {
		t.Fatal("render issued outside edit session")
	}

	_ = ed.Begin()
	if err := s.previewTick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ed.Snapshot().Preview != "<p>hello</p>" || srv.Calls(remote.PathRenderNote) != 1 {
		t.Errorf("preview = %q", ed.Snapshot().Preview)
	}
	if rec.count(sse.EventPreviewUpdated) != 1 {
		t.Errorf("events = %v", rec.types())
	}
}

func TestToggleUnknownLoop(t *testing.T) {
	s, _, _ := newSession(t)
	if _, err := s.ToggleLoop("nope"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun(t *testing.T) {
	s, srv, _ := newSession(t)
	_ = s.store.Save(settings.Beacon, "interval", 10)
	_ = s.store.Save(settings.Messages, "interval", 10)
	_ = s.store.SetEnabled(settings.Beacon, true)
	_ = s.store.SetEnabled(settings.Messages, true)
	srv.Queue(remote.Message{Time: "2024-01-01 10:00:00", Level: "INFO", Message: "up"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return srv.Calls(remote.PathBeacon) >= 2 && s.Buffer().Len() == 1
	}, "loops did not poll")

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if srv.Calls(remote.PathRenderNote) != 0 {
		t.Error("disabled preview loop issued calls")
	}
}
