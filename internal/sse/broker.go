// Package sse implements a Server-Sent Events broker for live console updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	EventMessageAdded    = "message.added"
	EventMessageRemoved  = "message.removed"
	EventMessagesCleared = "messages.cleared"
	EventMessagesChanged = "messages.changed"
	EventBeaconStatus    = "beacon.status"
	EventPreviewUpdated  = "preview.updated"
	EventNoteUpdated     = "note.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data any    `json:"data"`
}

type jsonFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Summary is the payload of the throttled messages.changed event.
type Summary struct {
	Size    int  `json:"size"`
	Visible bool `json:"visible"`
}

// Frame encodings a subscriber can ask for.
const (
	formatSSE = iota
	formatJSON
)

type subscribeReq struct {
	ch     chan []byte
	format int
}

type messageEventReq struct {
	event   Event
	summary Summary
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + summary throttle state). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	summaryMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	messageCh     chan messageEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. At most one messages.changed summary
// is sent per throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		summaryMin:    throttle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		messageCh:     make(chan messageEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]int) // channel -> format
	var lastSummary time.Time
	// A summary suppressed by the throttle is sent when the interval ends,
	// so subscribers always see the final state of a burst.
	var pending *Summary
	var flush <-chan time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		frames := [2][]byte{
			formatSSE: []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)),
		}
		frames[formatJSON], err = json.Marshal(jsonFrame{Type: event.Type, Data: payload})
		if err != nil {
			return
		}

		for ch, format := range clients {
			select {
			case ch <- frames[format]:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = req.format

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.messageCh:
			broadcast(req.event)

			now := time.Now()
			if wait := b.summaryMin - now.Sub(lastSummary); wait > 0 {
				sum := req.summary
				pending = &sum
				if flush == nil {
					flush = time.After(wait)
				}
				continue
			}
			lastSummary = now
			pending = nil
			broadcast(Event{Type: EventMessagesChanged, Data: req.summary})

		case <-flush:
			flush = nil
			if pending != nil {
				lastSummary = time.Now()
				broadcast(Event{Type: EventMessagesChanged, Data: *pending})
				pending = nil
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client receiving SSE frames and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	return b.subscribe(formatSSE)
}

// SubscribeJSON adds a new client receiving one JSON object
// {"type", "data"} per event and returns its channel.
func (b *Broker) SubscribeJSON() chan []byte {
	return b.subscribe(formatJSON)
}

func (b *Broker) subscribe(format int) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, format: format}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishMessageEvent publishes a message row change followed by a
// throttled messages.changed summary of the buffer. The last summary of a
// burst is delivered once the throttle interval has passed.
func (b *Broker) PublishMessageEvent(event Event, summary Summary) {
	if b.closed.Load() {
		return
	}
	select {
	case b.messageCh <- messageEventReq{event: event, summary: summary}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
