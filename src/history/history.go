package history

import (
	"sync"

	"github.com/amank-23/go-trading-engine/src/engine"
)

// Tail is a bounded buffer of the venue's most recent trades. Appending past
// capacity evicts the oldest entry; snapshots list newest first.
type Tail struct {
	mu       sync.RWMutex
	trades   []engine.Trade // fixed-size ring
	next     int            // write position
	size     int
	capacity int
}

func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tail{
		trades:   make([]engine.Trade, capacity),
		capacity: capacity,
	}
}

func (t *Tail) Append(trade engine.Trade) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trades[t.next] = trade
	t.next = (t.next + 1) % t.capacity
	if t.size < t.capacity {
		t.size++
	}
}

// Recent copies up to limit trades, newest first. A non-positive limit or a
// limit beyond the current size returns everything retained.
func (t *Tail) Recent(limit int) []engine.Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := t.size
	if limit > 0 && limit < count {
		count = limit
	}

	out := make([]engine.Trade, 0, count)
	for i := 1; i <= count; i++ {
		idx := (t.next - i + t.capacity) % t.capacity
		out = append(out, t.trades[idx])
	}
	return out
}

func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

func (t *Tail) Capacity() int {
	return t.capacity
}
