package poller

import (
	"sync"
	"time"
)

// Named events emitted by the scheduler.
const (
	EventStatusChange   = "status:change"
	EventPollComplete   = "poll:complete"
	EventPollError      = "poll:error"
	EventServiceStarted = "service:started"
	EventServiceStopped = "service:stopped"
)

// Event is one occurrence on the bus. Payload is event-specific: a
// StatusChange for status:change, a *PollResult for poll:complete and
// poll:error, nil for lifecycle events.
type Event struct {
	Name        string    `json:"name"`
	ServiceID   string    `json:"service_id"`
	ServiceName string    `json:"service_name"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber channel. Delivery is best-effort:
// a full subscriber drops events rather than blocking the scheduler.
const subscriberBuffer = 64

type subscriber struct {
	name string // event name, or "" for all events
	ch   chan Event
}

// Bus is a minimal named-event dispatcher. Subscribers receive events
// best-effort within the process; the polling core never blocks on them.
type Bus struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers for events with the given name; an empty name receives
// every event. The returned cancel function closes the channel.
func (b *Bus) Subscribe(name string) (<-chan Event, func()) {
	sub := &subscriber{name: name, ch: make(chan Event, subscriberBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Emit delivers an event to matching subscribers without blocking.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.name != "" && sub.name != ev.Name {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; drop.
		}
	}
}

// Close removes all subscribers and closes their channels. Subsequent Emit
// and Subscribe calls are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
