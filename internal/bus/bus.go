// Package bus fans memory events out to live subscribers and queues
// ingested events for the store writer.
package bus

import (
	"context"
	"sync"

	"github.com/nextlevelbuilder/recall/internal/store"
)

// Event is one feed item: something happened to the memory store.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

// EventHandler receives broadcast events. Handlers must not block.
type EventHandler func(Event)

// Feed routes ingested episodic events to the store writer and
// broadcasts feed events to WebSocket subscribers.
type Feed struct {
	ingest chan store.EpisodicEvent
	done   chan struct{}

	subscribers map[string]EventHandler
	subMu       sync.RWMutex

	closeOnce sync.Once
}

// New creates a feed with a bounded ingest queue.
func New() *Feed {
	return &Feed{
		ingest:      make(chan store.EpisodicEvent, 100),
		done:        make(chan struct{}),
		subscribers: make(map[string]EventHandler),
	}
}

// Ingest queues an episodic event for the store writer. It returns
// false when the queue is full or the feed closed, never blocking the
// producer.
func (f *Feed) Ingest(ev store.EpisodicEvent) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ingest <- ev:
		return true
	default:
		return false
	}
}

// Consume blocks until an ingested event is available, the feed is
// closed, or ctx is cancelled. After Close it drains what is left
// before reporting false.
func (f *Feed) Consume(ctx context.Context) (store.EpisodicEvent, bool) {
	select {
	case ev := <-f.ingest:
		return ev, true
	case <-f.done:
		select {
		case ev := <-f.ingest:
			return ev, true
		default:
			return store.EpisodicEvent{}, false
		}
	case <-ctx.Done():
		return store.EpisodicEvent{}, false
	}
}

// Subscribe registers an event subscriber under id. Re-using an id
// replaces the previous handler.
func (f *Feed) Subscribe(id string, handler EventHandler) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	f.subscribers[id] = handler
}

// Unsubscribe removes an event subscriber.
func (f *Feed) Unsubscribe(id string) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	delete(f.subscribers, id)
}

// Subscribers reports the current subscriber count.
func (f *Feed) Subscribers() int {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	return len(f.subscribers)
}

// Broadcast sends an event to all subscribers. Delivery is in-process
// and synchronous; handlers must hand off to their own queue.
func (f *Feed) Broadcast(event Event) {
	f.subMu.RLock()
	defer f.subMu.RUnlock()
	for _, handler := range f.subscribers {
		handler(event)
	}
}

// Close stops intake. Events already queued drain through Consume.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
