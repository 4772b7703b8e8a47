package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jarvislabs/jarvisd/pkg/events"
)

// sseFrame is the data line of one SSE frame.
type sseFrame struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// sseWriter serializes events into SSE wire frames.
type sseWriter struct {
	w     io.Writer
	flush func()
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flush := func() {}
	if f, ok := any(w).(http.Flusher); ok {
		flush = f.Flush
	}
	return &sseWriter{w: w, flush: flush}
}

// writeEvent emits one event frame. Events without a persisted id (transient
// heartbeats) carry no id line, so they never move the client's cursor.
func (s *sseWriter) writeEvent(ev events.Event) error {
	data, err := json.Marshal(sseFrame{
		Type:      ev.Type,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		return err
	}

	if ev.EventID > 0 {
		if _, err := fmt.Fprintf(s.w, "id: %d\n", ev.EventID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeHeartbeat emits an id-less heartbeat sentinel.
func (s *sseWriter) writeHeartbeat(message string) error {
	return s.writeEvent(events.Event{
		Type:      events.TypeHeartbeat,
		Payload:   map[string]any{"message": message},
		Timestamp: time.Now(),
	})
}

// slowClientGrace is how long a lifecycle push blocks on a full queue before
// the client is declared too slow and disconnected.
const slowClientGrace = 100 * time.Millisecond

// sseQueue is the bounded per-connection live queue. Overflow drops tokens
// and heartbeats; lifecycle events block briefly and then disconnect the
// client, because silently losing a lifecycle event would strand it.
type sseQueue struct {
	ch chan events.Event

	mu     sync.Mutex
	closed bool
}

func newSSEQueue(size int) *sseQueue {
	return &sseQueue{ch: make(chan events.Event, size)}
}

// push enqueues an event for the consumer. Never blocks the bus for longer
// than the slow-client grace.
func (q *sseQueue) push(ev events.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}

	select {
	case q.ch <- ev:
		q.mu.Unlock()
		return
	default:
	}

	if droppable(ev.Type) {
		q.mu.Unlock()
		return
	}

	select {
	case q.ch <- ev:
		q.mu.Unlock()
	case <-time.After(slowClientGrace):
		q.closeLocked()
		q.mu.Unlock()
	}
}

// close ends the stream; the consumer sees the channel close.
func (q *sseQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *sseQueue) closeLocked() {
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func droppable(eventType string) bool {
	return eventType == events.TypeSupervisorToken || events.IsTransient(eventType)
}
