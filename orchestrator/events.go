// events.go is the in-process pub/sub bus connecting the orchestrator to
// event-triggered skills and operational alerting. All methods are safe for
// concurrent use.
package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of event published on the bus.
type EventType string

// Event types the control plane publishes.
const (
	EventCycleCompleted      EventType = "cycle.completed"
	EventCycleError          EventType = "cycle.error"
	EventBreakerOpened       EventType = "breaker.opened"
	EventBreakerClosed       EventType = "breaker.closed"
	EventSponsorshipExecuted EventType = "sponsorship.executed"
	EventReserveEmergency    EventType = "reserve.emergency"
	EventPolicyRejected      EventType = "policy.rejected"
)

// Event is a message published on the bus.
type Event struct {
	Type      EventType
	Data      any
	Timestamp time.Time
}

// Subscription receives events of the types it was created with.
type Subscription struct {
	id     uint64
	types  map[EventType]struct{}
	ch     chan Event
	bus    *EventBus
	closed atomic.Bool
}

// Chan returns the subscription's delivery channel.
func (s *Subscription) Chan() <-chan Event { return s.ch }

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	if s.bus != nil {
		s.bus.Unsubscribe(s)
	}
}

// EventBus is a minimal typed pub/sub hub.
type EventBus struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
}

// NewEventBus creates a bus whose subscriptions buffer bufferSize events.
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &EventBus{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
	}
}

// Subscribe creates a subscription for the given event types.
func (eb *EventBus) Subscribe(types ...EventType) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		sub := &Subscription{ch: make(chan Event), types: map[EventType]struct{}{}}
		sub.closed.Store(true)
		close(sub.ch)
		return sub
	}

	eb.nextID++
	typeSet := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		typeSet[t] = struct{}{}
	}
	sub := &Subscription{
		id:    eb.nextID,
		types: typeSet,
		ch:    make(chan Event, eb.bufferSize),
		bus:   eb,
	}
	eb.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its channel exactly once.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.closed.CompareAndSwap(false, true) {
		return
	}
	eb.mu.Lock()
	delete(eb.subs, sub.id)
	eb.mu.Unlock()
	close(sub.ch)
}

// Publish delivers the event to matching subscribers without blocking;
// events are dropped for subscribers whose buffers are full. A cycle must
// never stall on a slow listener.
func (eb *EventBus) Publish(eventType EventType, data any) {
	event := Event{Type: eventType, Data: data, Timestamp: time.Now()}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, sub := range eb.subs {
		if sub.closed.Load() {
			continue
		}
		if _, ok := sub.types[eventType]; ok {
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of live subscriptions for a type.
func (eb *EventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	n := 0
	for _, sub := range eb.subs {
		if sub.closed.Load() {
			continue
		}
		if _, ok := sub.types[eventType]; ok {
			n++
		}
	}
	return n
}

// Close shuts the bus down and closes every subscription channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	subs := make([]*Subscription, 0, len(eb.subs))
	for _, s := range eb.subs {
		subs = append(subs, s)
	}
	eb.subs = map[uint64]*Subscription{}
	eb.mu.Unlock()

	for _, s := range subs {
		if s.closed.CompareAndSwap(false, true) {
			close(s.ch)
		}
	}
}
