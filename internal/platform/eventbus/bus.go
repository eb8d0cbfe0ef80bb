// Package eventbus is an in-process publish/subscribe channel. The store
// client publishes every booking and cancellation on it, and each mounted
// scheduler view reloads its appointment cache when it hears one.
package eventbus

import (
	"sync"
	"time"
)

// TopicScheduleChanged is published after any booking or cancellation.
const TopicScheduleChanged = "schedule.changed"

// Actions carried by schedule-changed events.
const (
	ActionBook   = "book"
	ActionCancel = "cancel"
)

// Event is a single notification. Payload carries the created appointment
// for bookings; ResourceID carries the appointment id for cancellations.
type Event struct {
	Topic      string
	Action     string
	ResourceID string
	Date       string
	Payload    interface{}
	Remote     bool
	Timestamp  time.Time
}

// Subscription receives events published after it was created.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	once   sync.Once
	topics map[string]struct{}
}

// C returns the receive channel. It is closed by Close.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

func (s *Subscription) wants(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// Bus fans events out to subscribers. All operations are safe for
// concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	now  func() time.Time
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
		now:  time.Now,
	}
}

// Subscribe registers a subscriber with the given channel buffer. With no
// topics it receives every event.
func (b *Bus) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		ch:     make(chan Event, buffer),
		bus:    b,
		topics: make(map[string]struct{}, len(topics)),
	}
	for _, t := range topics {
		sub.topics[t] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// Publish delivers evt to every interested subscriber. It never blocks: a
// subscriber with a full buffer misses the event, which is harmless because
// each event triggers the same full reload.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Topic == "" {
		evt.Topic = TopicScheduleChanged
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.wants(evt.Topic) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
