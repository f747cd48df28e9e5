package events

import "sync"

// backlog is a fixed-size ring of the most recent events.
type backlog struct {
	mu    sync.RWMutex
	ring  []Event
	next  int // slot the next event is written to
	held  int
	total uint64
}

func newBacklog(size int) *backlog {
	return &backlog{ring: make([]Event, size)}
}

func (b *backlog) add(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ring[b.next] = e
	b.next = (b.next + 1) % len(b.ring)
	if b.held < len(b.ring) {
		b.held++
	}
	b.total++
}

// last returns up to n events, oldest first. n <= 0 returns everything held.
func (b *backlog) last(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > b.held {
		n = b.held
	}
	out := make([]Event, n)
	start := b.next - n
	if start < 0 {
		start += len(b.ring)
	}
	for i := range out {
		out[i] = b.ring[(start+i)%len(b.ring)]
	}
	return out
}

// count includes events already evicted from the ring.
func (b *backlog) count() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

func (b *backlog) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ring)
	b.next, b.held, b.total = 0, 0, 0
}
