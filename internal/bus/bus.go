// Package bus is the in-process publish/subscribe hub of the daemon. Event
// kinds are '/' separated paths and subscribers filter by prefix.
package bus

import (
	"errors"
	"strings"
	"sync"
)

// ErrOverflow is reported by a subscription the bus terminated because its
// buffer was full.
var ErrOverflow = errors.New("subscriber buffer overflow")

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*Subscription
	next int
}

// Subscription receives the events of one namespace. The channel is closed
// when the subscription ends; Err tells why.
type Subscription struct {
	bus       *Bus
	id        int
	namespace string
	ch        chan Event
	err       error
	closed    bool
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. It never blocks: a subscriber whose buffer is full is
// terminated with ErrOverflow so it can resynchronize.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.namespace) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			b.end(sub, ErrOverflow)
		}
	}
}

// Subscribe returns a subscription to events whose kind starts with
// namespace. bufSize controls the channel buffer.
func (b *Bus) Subscribe(namespace string, bufSize int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription{
		bus:       b,
		id:        b.next,
		namespace: namespace,
		ch:        make(chan Event, max(bufSize, 1)),
	}
	b.next++
	b.subs[sub.id] = sub
	return sub
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) end(sub *Subscription, err error) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = err
	delete(b.subs, sub.id)
	close(sub.ch)
}

// C returns the event channel.
func (s *Subscription) C() <-chan Event { return s.ch }

// Err returns ErrOverflow when the bus terminated the subscription, nil
// otherwise.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.err
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.end(s, nil)
}
