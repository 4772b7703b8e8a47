package events

import (
	"log/slog"
	"sync"
)

// Handler receives events for one subscription. Handlers must not block:
// long-lived consumers (SSE connections) push into their own queue and
// return immediately.
type Handler func(Event)

// Bus is the in-process publish/subscribe fan-out. Pure delivery to live
// subscribers; persistence is the Store's job.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewBus creates a new Bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[int]Handler),
	}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]Handler)
	}
	b.subs[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[eventType], id)
	}
}

// SubscribeAll registers one handler for many event types and returns a
// single unsubscribe function covering all of them.
func (b *Bus) SubscribeAll(eventTypes []string, handler Handler) func() {
	unsubs := make([]func(), 0, len(eventTypes))
	for _, t := range eventTypes {
		unsubs = append(unsubs, b.Subscribe(t, handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Publish delivers the event to every current subscriber of its type.
// Delivery is synchronous and in subscription order; a panicking handler is
// logged and skipped so it never takes down the publisher or its peers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.Type]))
	for _, h := range b.subs[event.Type] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, event)
	}
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type, "run_id", event.RunID, "panic", r)
		}
	}()
	h(event)
}

// SubscriberCount returns the number of live subscribers for a type.
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
