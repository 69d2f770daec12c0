// Package pubsub implements a simple publish/subscribe bus used purely
// for diagnostics: group lifecycle transitions (created, joined, left,
// elected) are broadcast here for any subscriber that wants them, never
// so that correctness of the coordination core depends on a subscriber
// actually being present. Constraint-change attempts and group deletion
// publish no events, and cmd/burner does not subscribe.
//
// The broker itself is adapted from the pattern the teacher used for
// roothash/memory's blockNotifier/eventNotifier: each subscriber gets
// its own unbounded channel backed by eapache/channels.InfiniteChannel,
// so a slow or absent subscriber can never block a publisher on the
// coordination core's critical path.
package pubsub

import (
	"sync"

	"github.com/eapache/channels"
)

// Event is a single diagnostics event.  Kind distinguishes what
// happened; Fields carries structured attributes the same shape as a
// logging.Logger keyval list.
type Event struct {
	Kind   string
	Fields []interface{}
}

// Subscription is a handle to one subscriber's feed of Events.
type Subscription struct {
	broker *Broker
	ch     *channels.InfiniteChannel
	out    chan Event
	closed chan struct{}
	once   sync.Once
}

// C returns the channel on which the subscriber receives Events.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close unsubscribes and releases the underlying channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.closed)
		s.ch.Close()
	})
}

// Broker fans a single publisher out to many independent subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewBroker constructs an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Broker) Subscribe() *Subscription {
	sub := &Subscription{
		ch:     channels.NewInfiniteChannel(),
		out:    make(chan Event),
		closed: make(chan struct{}),
	}
	sub.broker = b

	go sub.pump()

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

func (sub *Subscription) pump() {
	in := sub.ch.Out()
	for {
		select {
		case v, ok := <-in:
			if !ok {
				close(sub.out)
				return
			}
			select {
			case sub.out <- v.(Event):
			case <-sub.closed:
				close(sub.out)
				return
			}
		case <-sub.closed:
			close(sub.out)
			return
		}
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish fans ev out to every live subscriber without blocking on any
// of them (InfiniteChannel absorbs an unbounded backlog per subscriber).
func (b *Broker) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.ch.In() <- ev
	}
}
