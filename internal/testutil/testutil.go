// Package testutil provides shared test helpers: a fake notes server
// implementing the remote endpoints, settings storage and a quiet logger.
package testutil

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/livedesk/internal/remote"
	"github.com/starford/livedesk/internal/storage"
)

// Logger returns a JSON logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TempKV creates a file-backed settings store in a temporary directory.
func TempKV(t *testing.T) *storage.File {
	t.Helper()
	kv, err := storage.OpenFile(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return kv
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

// Server is a fake notes server. Render answers "<p>" + Content + "</p>".
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	calls    map[string]int
	failing  map[string]bool   // answer HTTP 500
	rejected map[string]string // answer Status false with this message
	delay    map[string]time.Duration
	pending  []remote.Message
	saved    []map[string]string
	hostname string
}

// NewServer starts a fake server that is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		calls:    make(map[string]int),
		failing:  make(map[string]bool),
		rejected: make(map[string]string),
		delay:    make(map[string]time.Duration),
		hostname: "testhost",
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Calls returns how many requests path has received.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Fail makes path answer HTTP 500 while on is true.
func (s *Server) Fail(path string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[path] = on
}

// Reject makes path answer Status false with msg. An empty msg clears it.
func (s *Server) Reject(path, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.rejected, path)
		return
	}
	s.rejected[path] = msg
}

// Delay holds every reply on path for d.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[path] = d
}

// Queue adds messages returned by the next message fetch.
func (s *Server) Queue(msgs ...remote.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, msgs...)
}

// Saved returns the forms received by the save endpoint.
func (s *Server) Saved() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]string(nil), s.saved...)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	path := r.URL.Path

	s.mu.Lock()
	s.calls[path]++
	fail := s.failing[path]
	rejectMsg, rejected := s.rejected[path]
	delay := s.delay[path]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if rejected {
		writeJSON(w, map[string]any{"Status": false, "Message": rejectMsg})
		return
	}

	switch path {
	case remote.PathBeacon:
		writeJSON(w, remote.Beacon{
			Status:    true,
			Message:   "ticker",
			Hostname:  s.hostname,
			Timestamp: time.Now().Format("2006-01-02 15:04:05"),
		})
	case remote.PathMessages:
		s.mu.Lock()
		msgs := s.pending
		s.pending = nil
		s.mu.Unlock()
		if msgs == nil {
			msgs = []remote.Message{}
		}
		writeJSON(w, map[string]any{"Status": true, "Messages": msgs})
	case remote.PathRenderNote:
		writeJSON(w, map[string]any{"Status": true, "Content": "<p>" + r.PostForm.Get("Content") + "</p>"})
	case remote.PathSaveNote, remote.PathRenameNote:
		if path == remote.PathSaveNote {
			form := make(map[string]string)
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			s.mu.Lock()
			s.saved = append(s.saved, form)
			s.mu.Unlock()
		}
		writeJSON(w, map[string]any{"Status": true})
	default:
		if strings.HasPrefix(path, "/ajax/") {
			writeJSON(w, map[string]any{"Status": true, "Message": "ok"})
			return
		}
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
