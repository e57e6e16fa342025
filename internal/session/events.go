package session

import (
	"sync"
	"time"
)

// TimeoutEvent is published when a session is ended for the user rather
// than by the user: a forced expiry or an idle cleanup.
type TimeoutEvent struct {
	StoreID string
	Email   string
	At      time.Time
}

// TimeoutBus fans timeout events out to subscribers. Publishing never
// blocks; a subscriber that cannot keep up loses events instead of stalling
// the login path.
type TimeoutBus struct {
	mu   sync.Mutex
	subs map[chan TimeoutEvent]struct{}
}

func NewTimeoutBus() *TimeoutBus {
	return &TimeoutBus{subs: make(map[chan TimeoutEvent]struct{})}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release it.
func (b *TimeoutBus) Subscribe() (<-chan TimeoutEvent, func()) {
	ch := make(chan TimeoutEvent, 16)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}

	return ch, cancel
}

func (b *TimeoutBus) Publish(event TimeoutEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
