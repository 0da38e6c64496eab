package remote_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/starford/livedesk/internal/apperr"
	"github.com/starford/livedesk/internal/remote"
	"github.com/starford/livedesk/internal/testutil"
)

func TestBeacon(t *testing.T) {
	srv := testutil.NewServer(t)
	c := remote.NewClient(srv.URL, time.Second)

	b, err := c.Beacon(context.Background())
	if err != nil {
		t.Fatalf("beacon: %v", err)
	}
	if b.Hostname != "testhost" || !b.Status {
		t.Errorf("beacon = %+v", b)
	}
}

func TestBeacon_Rejected(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Reject(remote.PathBeacon, "shutting down")
	c := remote.NewClient(srv.URL, time.Second)

	_, err := c.Beacon(context.Background())
	if !errors.Is(err, apperr.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var se *remote.StatusError
	if !errors.As(err, &se) || se.Message != "shutting down" {
		t.Errorf("status error = %+v", se)
	}
}

func TestMessages(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Queue(remote.Message{Time: "2024-01-01 10:00:00", Level: "INFO", Message: "hello"})
	c := remote.NewClient(srv.URL+"/", time.Second)

	msgs, err := c.Messages(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Message != "hello" {
		t.Errorf("messages = %+v", msgs)
	}
	msgs, _ = c.Messages(context.Background())
	if len(msgs) != 0 {
		t.Errorf("queue not drained: %+v", msgs)
	}
}

func TestRenderAndSave(t *testing.T) {
	srv := testutil.NewServer(t)
	c := remote.NewClient(srv.URL, time.Second)

	html, err := c.Render(context.Background(), "*hi*")
	if err != nil || html != "<p>*hi*</p>" {
		t.Errorf("render = %q, %v", html, err)
	}

	if err := c.SaveNote(context.Background(), 42, "Title", "body text"); err != nil {
		t.Fatal(err)
	}
	saved := srv.Saved()
	if len(saved) != 1 || saved[0]["id"] != "42" || saved[0]["body"] != "body text" {
		t.Errorf("saved = %+v", saved)
	}
	if _, ok := saved[0]["revision"]; ok {
		t.Error("save unexpectedly carries a revision")
	}
}

func TestTransportErrors(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Fail(remote.PathRenderNote, true)
	c := remote.NewClient(srv.URL, time.Second)

	if _, err := c.Render(context.Background(), "x"); !errors.Is(err, apperr.ErrTransport) {
		t.Errorf("HTTP 500: err = %v, want ErrTransport", err)
	}

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer garbage.Close()
	c = remote.NewClient(garbage.URL, time.Second)
	if _, err := c.Beacon(context.Background()); !errors.Is(err, apperr.ErrTransport) {
		t.Errorf("undecodable: err = %v, want ErrTransport", err)
	}

	c = remote.NewClient("http://127.0.0.1:1", 200*time.Millisecond)
	if _, err := c.Messages(context.Background()); !errors.Is(err, apperr.ErrTransport) {
		t.Errorf("unreachable: err = %v, want ErrTransport", err)
	}
}

func TestCall_GenericEndpoint(t *testing.T) {
	srv := testutil.NewServer(t)
	c := remote.NewClient(srv.URL, time.Second)

	res, err := c.Call(context.Background(), http.MethodPost, "/ajax/label_create", url.Values{"name": {"go"}})
	if err != nil || !res.Status {
		t.Fatalf("call = %+v, %v", res, err)
	}
	if srv.Calls("/ajax/label_create") != 1 {
		t.Error("endpoint not called")
	}

	srv.Reject("/ajax/label_create", "duplicate label")
	res, err = c.Call(context.Background(), http.MethodPost, "ajax/label_create", nil)
	if !errors.Is(err, apperr.ErrRejected) || res == nil || res.Message != "duplicate label" {
		t.Errorf("rejected call = %+v, %v", res, err)
	}
}
