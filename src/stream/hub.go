package stream

import "sync"

// Subscription is one consumer's buffered feed of broadcast values. The
// channel is closed by Unsubscribe, never by the consumer.
type Subscription[T any] struct {
	C chan T
}

// Hub fans one stream of values out to any number of websocket subscribers.
// Broadcast never blocks: a subscriber whose buffer is full simply misses
// that value, so one stalled dashboard cannot back-pressure the matcher.
type Hub[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subs: make(map[*Subscription[T]]struct{})}
}

func (h *Hub[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription[T]{C: make(chan T, buffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

func (h *Hub[T]) Unsubscribe(sub *Subscription[T]) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.C)
	}
	h.mu.Unlock()
}

func (h *Hub[T]) Broadcast(value T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.C <- value:
		default:
			// slow consumer, drop rather than stall the publisher
		}
	}
}

func (h *Hub[T]) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
