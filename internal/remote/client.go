// Package remote is the client for the notes server endpoints the live
// console depends on.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/starford/livedesk/internal/apperr"
)

// Endpoint paths, relative to the base URL.
const (
	PathBeacon     = "/ajax/beacon"
	PathMessages   = "/ajax/get_messages"
	PathRenderNote = "/ajax/render_note"
	PathSaveNote   = "/ajax/save_note"
	PathRenameNote = "/ajax/rename_note"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Response is the envelope every endpoint answers with.
type Response struct {
	Status  bool   `json:"Status"`
	Message string `json:"Message"`
}

// Beacon is the heartbeat reply.
type Beacon struct {
	Status    bool   `json:"Status"`
	Message   string `json:"Message"`
	Hostname  string `json:"Hostname"`
	Timestamp string `json:"Timestamp"`
}

// Message is one server-side log message.
type Message struct {
	Time    string `json:"Time"`
	Level   string `json:"Level"`
	Message string `json:"Message"`
}

type messagesResponse struct {
	Status   bool      `json:"Status"`
	Messages []Message `json:"Messages"`
	Message  string    `json:"Message"`
}

type renderResponse struct {
	Status  bool   `json:"Status"`
	Content string `json:"Content"`
	Message string `json:"Message"`
}

// StatusError is an application-level failure: the server answered with
// Status false.
type StatusError struct {
	Endpoint string
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return e.Endpoint + " failed"
	}
	return e.Endpoint + " failed: " + e.Message
}

// Unwrap makes errors.Is(err, apperr.ErrRejected) hold.
func (e *StatusError) Unwrap() error {
	return apperr.ErrRejected
}

// Client talks to the notes server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL. A non-positive
// timeout selects DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Beacon performs the liveness check.
func (c *Client) Beacon(ctx context.Context) (*Beacon, error) {
	var b Beacon
	if err := c.do(ctx, http.MethodGet, PathBeacon, nil, &b); err != nil {
		return nil, err
	}
	if !b.Status {
		return &b, &StatusError{Endpoint: PathBeacon, Message: b.Message}
	}
	return &b, nil
}

// Messages fetches the messages the server has queued since the last call.
func (c *Client) Messages(ctx context.Context) ([]Message, error) {
	var res messagesResponse
	if err := c.do(ctx, http.MethodGet, PathMessages, nil, &res); err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, &StatusError{Endpoint: PathMessages, Message: res.Message}
	}
	return res.Messages, nil
}

// Render converts note markup to HTML.
func (c *Client) Render(ctx context.Context, markup string) (string, error) {
	var res renderResponse
	form := url.Values{"Content": {markup}}
	if err := c.do(ctx, http.MethodPost, PathRenderNote, form, &res); err != nil {
		return "", err
	}
	if !res.Status {
		return "", &StatusError{Endpoint: PathRenderNote, Message: res.Message}
	}
	return res.Content, nil
}

// SaveNote stores a new body for note id. The request carries no revision,
// so the server cannot detect a stale save.
func (c *Client) SaveNote(ctx context.Context, id int64, title, body string) error {
	form := url.Values{
		"id":    {strconv.FormatInt(id, 10)},
		"title": {title},
		"body":  {body},
	}
	return c.call(ctx, http.MethodPost, PathSaveNote, form)
}

// RenameNote changes the title of note id.
func (c *Client) RenameNote(ctx context.Context, id int64, title string) error {
	form := url.Values{
		"id":    {strconv.FormatInt(id, 10)},
		"title": {title},
	}
	return c.call(ctx, http.MethodPost, PathRenameNote, form)
}

// Call fires any other endpoint (labels, links, reminders, tags, feeds,
// ratings) and returns its envelope. Status false is reported as a
// *StatusError alongside the envelope.
func (c *Client) Call(ctx context.Context, method, path string, form url.Values) (*Response, error) {
	var res Response
	if err := c.do(ctx, method, path, form, &res); err != nil {
		return nil, err
	}
	if !res.Status {
		return &res, &StatusError{Endpoint: path, Message: res.Message}
	}
	return &res, nil
}

func (c *Client) call(ctx context.Context, method, path string, form url.Values) error {
	_, err := c.Call(ctx, method, path, form)
	return err
}

// do sends the request and decodes the JSON reply into result. Every
// failure before a decoded reply wraps apperr.ErrTransport.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, result any) error {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	target := c.baseURL + path

	var body io.Reader
	if form != nil {
		if method == http.MethodGet {
			target += "?" + form.Encode()
		} else {
			body = strings.NewReader(form.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("remote: %s: creating request: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s: %w: %w", path, apperr.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("remote: %s: %w: HTTP %d: %s",
			path, apperr.ErrTransport, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("remote: %s: %w: decoding response: %v", path, apperr.ErrTransport, err)
	}
	return nil
}
