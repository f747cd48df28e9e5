package events

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Subscriber receives broadcast events. Slow subscribers miss events
// rather than block Emit.
type Subscriber chan Event

var fanout = struct {
	mu      sync.RWMutex
	subs    map[Subscriber][]string
	dropped atomic.Uint64
}{subs: make(map[Subscriber][]string)}

// Subscribe registers a subscriber for the named events. With no names it
// receives everything; a name ending in "." matches every event under
// that prefix, so "world.load." covers started, completed and failed.
func Subscribe(names ...string) Subscriber {
	ch := make(Subscriber, 64)
	fanout.mu.Lock()
	fanout.subs[ch] = names
	fanout.mu.Unlock()
	return ch
}

// Unsubscribe removes sub and closes it. Unknown subscribers are ignored.
func Unsubscribe(sub Subscriber) {
	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	if _, ok := fanout.subs[sub]; ok {
		delete(fanout.subs, sub)
		close(sub)
	}
}

// CloseAllSubscribers closes every subscriber. Used on shutdown.
func CloseAllSubscribers() {
	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	for sub := range fanout.subs {
		delete(fanout.subs, sub)
		close(sub)
	}
}

// Match reports whether event is selected by names, using the rules of
// Subscribe.
func Match(names []string, event string) bool {
	if len(names) == 0 {
		return true
	}
	for _, n := range names {
		if n == event || (strings.HasSuffix(n, ".") && strings.HasPrefix(event, n)) {
			return true
		}
	}
	return false
}

func broadcast(e Event) {
	fanout.mu.RLock()
	defer fanout.mu.RUnlock()
	for sub, names := range fanout.subs {
		if !Match(names, e.Name) {
			continue
		}
		select {
		case sub <- e:
		default:
			fanout.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func SubscriberCount() int {
	fanout.mu.RLock()
	defer fanout.mu.RUnlock()
	return len(fanout.subs)
}

// Dropped counts events discarded because a subscriber was full.
func Dropped() uint64 {
	return fanout.dropped.Load()
}

// RecentEvents returns the last n buffered events, oldest first. n <= 0
// returns the whole backlog.
func RecentEvents(n int) []Event {
	return buffer.last(n)
}
