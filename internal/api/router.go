package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/starford/livedesk/internal/console"
	"github.com/starford/livedesk/internal/sse"
)

// NewRouter creates a chi router with all API routes mounted.
// broker, if non-nil, serves the event streams at GET /events (SSE) and
// GET /ws (WebSocket).
func NewRouter(sess *console.Session, broker *sse.Broker) chi.Router {
	h := NewHandler(sess)

	r := chi.NewRouter()
	r.Use(BodyLimit(maxBodyBytes))

	// Message panel.
	r.Get("/messages", h.ListMessages)
	r.Post("/messages", h.PostMessage)
	r.Delete("/messages", h.ClearMessages)
	r.Delete("/messages/{id}", h.DeleteMessage)

	// Beacon and loops.
	r.Get("/beacon", h.Beacon)
	r.Post("/beacon/toggle", h.ToggleBeacon)
	r.Get("/loops", h.ListLoops)
	r.Post("/loops/{name}/toggle", h.ToggleLoop)

	// Settings.
	r.Get("/settings", h.GetSettings)
	r.Put("/settings/{category}/{key}", h.PutSetting)

	// Note editor.
	r.Get("/note", h.GetNote)
	r.Post("/note/open", h.OpenNote)
	r.Post("/note/edit", h.EditNote)
	r.Post("/note/input", h.InputNote)
	r.Post("/note/save", h.SaveNote)
	r.Post("/note/cancel", h.CancelNote)
	r.Post("/note/title", h.RenameNote)

	// Pass-through to the notes server.
	r.Post("/call", h.Call)

	if broker != nil {
		r.Get("/events", broker.ServeHTTP)
		r.Get("/ws", broker.ServeWS)
	}

	return r
}
