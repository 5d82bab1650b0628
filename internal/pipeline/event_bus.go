package pipeline

import (
	"sync"
)

// EventBus provides pub/sub for scan results.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	handler EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for events from all sources.
// Returns an unsubscribe function
func (b *EventBus) Subscribe(handler EventHandler) func() {
	sub := &eventSubscription{handler: handler}
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all subscribers. Handlers run synchronously so
// video frames arrive in order.
func (b *EventBus) Publish(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subscribers {
		sub.handler.OnEvent(ev)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.subscribers)
}
