package api

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/livescribe/internal/session"
)

// defaultSubscriberBuffer is the per-subscriber queue length.
const defaultSubscriberBuffer = 64

// Hub fans session events out to any number of subscribers. Publish never
// blocks: a subscriber whose queue is full misses the event.
//
// Hub implements [session.EventSink].
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool

	dropped atomic.Int64
}

type subscriber struct {
	ch chan session.Event
}

var _ session.EventSink = (*Hub)(nil)

// NewHub creates a hub whose subscribers each queue up to buffer events.
// A non-positive buffer selects the default of 64.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Publish delivers e to every subscriber with room in its queue.
func (h *Hub) Publish(e session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
			slog.Debug("event hub: subscriber queue full, dropping event",
				"type", e.Type,
				"session_id", e.SessionID,
			)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
// After [Hub.Close] the returned channel is already closed.
func (h *Hub) Subscribe() (<-chan session.Event, func()) {
	sub := &subscriber{ch: make(chan session.Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Close closes every subscriber channel. Later subscriptions receive a closed
// channel and later events are discarded.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
	return nil
}
