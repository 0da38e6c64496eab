package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: EventBeaconStatus, Data: map[string]string{"text": "alive"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: beacon.status") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"text":"alive"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishMessageEvent_SummaryThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event should trigger messages.changed.
	b.PublishMessageEvent(Event{Type: EventMessageAdded, Data: map[string]string{"id": "msg_a"}}, Summary{Size: 1, Visible: true})
	// Second event immediately should NOT trigger another summary.
	b.PublishMessageEvent(Event{Type: EventMessageRemoved, Data: map[string]string{"id": "msg_a"}}, Summary{})

	// Drain and count events.
	time.Sleep(50 * time.Millisecond)
	summaryCount := 0
	rowCount := 0
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "messages.changed") {
				summaryCount++
				if !strings.Contains(s, `"size":1,"visible":true`) {
					t.Errorf("unexpected summary %q", s)
				}
			} else {
				rowCount++
			}
		default:
			break loop
		}
	}

	if rowCount != 2 {
		t.Errorf("row events = %d, want 2", rowCount)
	}
	if summaryCount != 1 {
		t.Errorf("summary events = %d, want 1 (throttled)", summaryCount)
	}
}

func TestPublishMessageEvent_TrailingSummary(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishMessageEvent(Event{Type: EventMessageAdded}, Summary{Size: 1, Visible: true})
	b.PublishMessageEvent(Event{Type: EventMessageAdded}, Summary{Size: 2, Visible: true})
	b.PublishMessageEvent(Event{Type: EventMessagesCleared}, Summary{})

	var summaries []string
	timeout := time.After(time.Second)
	for len(summaries) < 2 {
		select {
		case msg := <-ch:
			if s := string(msg); strings.Contains(s, "messages.changed") {
				summaries = append(summaries, s)
			}
		case <-timeout:
			t.Fatalf("summaries = %q, want 2", summaries)
		}
	}
	if !strings.Contains(summaries[1], `"size":0,"visible":false`) {
		t.Errorf("trailing summary = %q, want the final state", summaries[1])
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: EventNoteUpdated, Data: map[string]string{"title": "x"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note.updated") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: EventNoteUpdated, Data: map[string]string{"title": "x"}})
	b.PublishMessageEvent(Event{Type: EventMessagesCleared}, Summary{})
}

func TestSubscribeJSON(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	sseCh := b.Subscribe()
	jsonCh := b.SubscribeJSON()

	b.Publish(Event{Type: EventBeaconStatus, Data: map[string]string{"text": "alive"}})

	for _, tc := range []struct {
		ch   chan []byte
		want string
	}{
		{sseCh, "event: beacon.status\ndata: {\"text\":\"alive\"}\n\n"},
		{jsonCh, `{"type":"beacon.status","data":{"text":"alive"}}`},
	} {
		select {
		case msg := <-tc.ch:
			if string(msg) != tc.want {
				t.Errorf("frame = %q, want %q", msg, tc.want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestServeWS(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	srv := httptest.NewServer(http.HandlerFunc(b.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client not subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Publish(Event{Type: EventNoteUpdated, Data: map[string]int{"revision": 2}})

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var frame struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != EventNoteUpdated || frame.Data["revision"] != 2 {
		t.Errorf("frame = %+v", frame)
	}
}
