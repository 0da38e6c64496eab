package api

import (
	"net/http"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/livedesk/internal/console"
	"github.com/starford/livedesk/internal/editor"
	"github.com/starford/livedesk/internal/logbuf"
	"github.com/starford/livedesk/internal/poll"
)

var (
	ajaxPath = regexp.MustCompile(`^/ajax/[a-z_]+$`)
	levels   = []any{
		string(logbuf.LevelTrace), string(logbuf.LevelDebug), string(logbuf.LevelInfo),
		string(logbuf.LevelWarn), string(logbuf.LevelError), string(logbuf.LevelCritical),
	}
)

// MessagesResponse is the message panel content, newest first.
type MessagesResponse struct {
	Messages []logbuf.Row `json:"messages"`
	Visible  bool         `json:"visible"`
	Capacity int          `json:"capacity"`
}

// PostMessageRequest appends a locally generated row.
type PostMessageRequest struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Validate implements validation.Validatable.
func (r PostMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Level, validation.Required, validation.In(levels...)),
		validation.Field(&r.Text, validation.Required),
	)
}

// BeaconResponse is the beacon status area.
type BeaconResponse = console.BeaconStatus

// ToggleResponse reports the new switch position of a loop.
type ToggleResponse struct {
	Loop   string `json:"loop"`
	Active bool   `json:"active"`
}

// LoopResponse describes one polling loop.
type LoopResponse struct {
	Name   string     `json:"name"`
	Active bool       `json:"active"`
	Stats  poll.Stats `json:"stats"`
}

// SettingRequest carries a new setting value, boolean or integer.
type SettingRequest struct {
	Value any `json:"value"`
}

// InputRequest reports the current editor text.
type InputRequest struct {
	Text string `json:"text"`
}

// InputResponse tells whether the text changed since the previous input.
type InputResponse struct {
	Changed bool `json:"changed"`
}

// TitleRequest renames the open note.
type TitleRequest struct {
	Title string `json:"title"`
}

// Validate implements validation.Validatable.
func (r TitleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required),
	)
}

// OpenNoteRequest loads a note into the editor.
type OpenNoteRequest struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Markup   string `json:"markup"`
	Body     string `json:"body"`
	Revision int    `json:"revision"`
}

// Validate implements validation.Validatable.
func (r OpenNoteRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.Revision, validation.Min(0)),
	)
}

func (r OpenNoteRequest) note() editor.Note {
	return editor.Note{
		ID:       r.ID,
		Title:    r.Title,
		Markup:   r.Markup,
		Body:     r.Body,
		Revision: r.Revision,
	}
}

// CallRequest proxies a notes server endpoint the console does not model.
type CallRequest struct {
	Method string            `json:"method"`
	Path   string            `json:"path"`
	Form   map[string]string `json:"form"`
}

// Validate implements validation.Validatable.
func (r CallRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Method, validation.Required, validation.In(http.MethodGet, http.MethodPost)),
		validation.Field(&r.Path, validation.Required, validation.Match(ajaxPath)),
	)
}
