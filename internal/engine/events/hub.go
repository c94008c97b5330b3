package events

import (
	"sync"

	"github.com/google/uuid"
)

// Hub fans download events out to any number of subscribers (SSE streams, the
// console consumer, tests). Delivery is best-effort: a subscriber whose buffer
// is full misses the event rather than blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan any
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan any)}
}

// Subscribe registers a new subscriber and returns its id, the receive
// channel, and a cancel function. The channel is closed on cancel or hub
// shutdown.
func (h *Hub) Subscribe(buffer int) (string, <-chan any, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan any, buffer)
	id := uuid.New().String()

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return id, ch, func() {}
	}
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return id, ch, cancel
}

// Publish delivers msg to every subscriber that has buffer space.
func (h *Hub) Publish(msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close drops all subscribers and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// SubscriberCount reports the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
