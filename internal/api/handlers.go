package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/starford/livedesk/internal/apperr"
	"github.com/starford/livedesk/internal/console"
	"github.com/starford/livedesk/internal/logbuf"
	"github.com/starford/livedesk/internal/settings"
)

// Handler holds API route handlers.
type Handler struct {
	sess *console.Session
}

// NewHandler creates a new Handler.
func NewHandler(sess *console.Session) *Handler {
	return &Handler{sess: sess}
}

// ListMessages handles GET /api/messages.
//
//	@Summary		List the message panel, newest first
//	@Tags			messages
//	@Produce		json
//	@Success		200	{object}	MessagesResponse
//	@Router			/messages [get]
func (h *Handler) ListMessages(w http.ResponseWriter, _ *http.Request) {
	buf := h.sess.Buffer()
	writeJSON(w, http.StatusOK, MessagesResponse{
		Messages: buf.Rows(),
		Visible:  buf.Visible(),
		Capacity: buf.Capacity(),
	})
}

// PostMessage handles POST /api/messages.
//
//	@Summary		Append a local message row
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PostMessageRequest	true	"Row to add"
//	@Success		201		{object}	logbuf.Row
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Router			/messages [post]
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	row, ok := h.sess.Post(logbuf.Level(req.Level), req.Text)
	if !ok {
		writeError(w, "post message", fmt.Errorf("message %s: %w", row.ID, apperr.ErrConflict))
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// DeleteMessage handles DELETE /api/messages/{id}.
//
//	@Summary		Remove one message row
//	@Tags			messages
//	@Param			id	path	string	true	"Row id"
//	@Success		204	"Row removed"
//	@Failure		404	{object}	errResponse
//	@Router			/messages/{id} [delete]
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.sess.Buffer().Remove(id) {
		writeError(w, "delete message", fmt.Errorf("message %s: %w", id, apperr.ErrNotFound))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearMessages handles DELETE /api/messages.
func (h *Handler) ClearMessages(w http.ResponseWriter, _ *http.Request) {
	h.sess.Buffer().Clear()
	w.WriteHeader(http.StatusNoContent)
}

// Beacon handles GET /api/beacon.
//
//	@Summary		Current beacon status text
//	@Tags			beacon
//	@Produce		json
//	@Success		200	{object}	BeaconResponse
//	@Router			/beacon [get]
func (h *Handler) Beacon(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.BeaconStatus())
}

// ToggleBeacon handles POST /api/beacon/toggle.
func (h *Handler) ToggleBeacon(w http.ResponseWriter, _ *http.Request) {
	h.toggle(w, settings.Beacon)
}

// ListLoops handles GET /api/loops.
func (h *Handler) ListLoops(w http.ResponseWriter, _ *http.Request) {
	loops := h.sess.Loops()
	out := make([]LoopResponse, 0, len(loops))
	for _, l := range loops {
		out = append(out, LoopResponse{Name: l.Name(), Active: l.Enabled(), Stats: l.Stats()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"loops": out})
}

// ToggleLoop handles POST /api/loops/{name}/toggle.
//
//	@Summary		Enable or disable a polling loop
//	@Tags			loops
//	@Param			name	path		string	true	"Loop"	Enums(beacon, messages, preview)
//	@Success		200		{object}	ToggleResponse
//	@Failure		404		{object}	errResponse
//	@Router			/loops/{name}/toggle [post]
func (h *Handler) ToggleLoop(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, chi.URLParam(r, "name"))
}

func (h *Handler) toggle(w http.ResponseWriter, name string) {
	if _, ok := h.sess.Loop(name); !ok {
		writeError(w, "toggle loop", fmt.Errorf("loop %q: %w", name, apperr.ErrNotFound))
		return
	}
	active, err := h.sess.ToggleLoop(name)
	if err != nil {
		writeError(w, "toggle loop", err)
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Loop: name, Active: active})
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Settings().Snapshot())
}

// PutSetting handles PUT /api/settings/{category}/{key}.
//
//	@Summary		Change one setting
//	@Tags			settings
//	@Accept			json
//	@Produce		json
//	@Param			category	path		string			true	"Category"	Enums(beacon, messages, preview)
//	@Param			key			path		string			true	"Attribute"
//	@Param			body		body		SettingRequest	true	"New value"
//	@Success		200			{object}	map[string]map[string]any
//	@Failure		400			{object}	errResponse
//	@Router			/settings/{category}/{key} [put]
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	var req SettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	store := h.sess.Settings()
	if err := store.Save(chi.URLParam(r, "category"), chi.URLParam(r, "key"), req.Value); err != nil {
		writeError(w, "save setting", err)
		return
	}
	writeJSON(w, http.StatusOK, store.Snapshot())
}

// GetNote handles GET /api/note.
func (h *Handler) GetNote(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sess.Editor().Snapshot())
}

// OpenNote handles POST /api/note/open.
func (h *Handler) OpenNote(w http.ResponseWriter, r *http.Request) {
	var req OpenNoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ed := h.sess.Editor()
	if err := ed.Open(req.note()); err != nil {
		writeError(w, "open note", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.Snapshot())
}

// EditNote handles POST /api/note/edit.
//
//	@Summary		Start an edit session on the open note
//	@Tags			note
//	@Produce		json
//	@Success		200	{object}	editor.Snapshot
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Router			/note/edit [post]
func (h *Handler) EditNote(w http.ResponseWriter, _ *http.Request) {
	ed := h.sess.Editor()
	if err := ed.Begin(); err != nil {
		writeError(w, "begin edit", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.Snapshot())
}

// InputNote handles POST /api/note/input.
func (h *Handler) InputNote(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	changed, err := h.sess.Editor().Input(r.Context(), req.Text)
	if err != nil {
		writeError(w, "note input", err)
		return
	}
	writeJSON(w, http.StatusOK, InputResponse{Changed: changed})
}

// SaveNote handles POST /api/note/save.
//
//	@Summary		Save the note being edited
//	@Tags			note
//	@Produce		json
//	@Success		200	{object}	editor.Snapshot
//	@Failure		409	{object}	errResponse
//	@Failure		502	{object}	errResponse
//	@Router			/note/save [post]
func (h *Handler) SaveNote(w http.ResponseWriter, r *http.Request) {
	ed := h.sess.Editor()
	if err := ed.Save(r.Context()); err != nil {
		writeError(w, "save note", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.Snapshot())
}

// CancelNote handles POST /api/note/cancel.
func (h *Handler) CancelNote(w http.ResponseWriter, _ *http.Request) {
	ed := h.sess.Editor()
	if err := ed.Cancel(); err != nil {
		writeError(w, "cancel edit", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.Snapshot())
}

// RenameNote handles POST /api/note/title.
func (h *Handler) RenameNote(w http.ResponseWriter, r *http.Request) {
	var req TitleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ed := h.sess.Editor()
	if _, err := ed.Rename(r.Context(), req.Title); err != nil {
		writeError(w, "rename note", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.Snapshot())
}

// Call handles POST /api/call.
//
//	@Summary		Invoke a notes server endpoint
//	@Tags			remote
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CallRequest	true	"Endpoint and form"
//	@Success		200		{object}	remote.Response
//	@Failure		400		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Router			/call [post]
func (h *Handler) Call(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	form := make(url.Values, len(req.Form))
	for k, v := range req.Form {
		form.Set(k, v)
	}
	resp, err := h.sess.Client().Call(r.Context(), req.Method, req.Path, form)
	if err != nil {
		h.sess.Post(logbuf.LevelError, fmt.Sprintf("%s failed: %v", req.Path, err))
		writeError(w, "call "+req.Path, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
