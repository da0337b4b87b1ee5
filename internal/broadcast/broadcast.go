// Package broadcast implements an ordered fan-out of values to subscribers.
//
// A Broadcaster is scoped to one stream (one kiosk session); there is no
// process-wide subscriber list. Each subscriber gets its own queue and
// delivery goroutine, so a slow subscriber never delays the publisher or the
// other subscribers, and values reach every subscriber in publish order.
package broadcast

import (
	"sync"

	"github.com/go-faster/errors"
)

var (
	// ErrClosed is returned when subscribing to a closed Broadcaster.
	ErrClosed = errors.New("broadcaster closed")
	// ErrSlowConsumer is reported by a subscription dropped for exceeding its backlog.
	ErrSlowConsumer = errors.New("subscriber backlog exceeded")
)

// DefaultBacklog bounds the undelivered values kept per subscriber.
const DefaultBacklog = 1024

// Broadcaster publishes values to the subscribers attached at publish time.
type Broadcaster[T any] struct {
	backlog int

	mu     sync.Mutex
	subs   map[uint64]*Subscription[T]
	nextID uint64
	closed bool
}

// New creates a Broadcaster. backlog <= 0 uses DefaultBacklog.
func New[T any](backlog int) *Broadcaster[T] {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	return &Broadcaster[T]{
		backlog: backlog,
		subs:    make(map[uint64]*Subscription[T]),
	}
}

// Subscribe attaches a subscriber that receives values published from now on.
func (b *Broadcaster[T]) Subscribe() (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.nextID++
	s := &Subscription[T]{
		b:       b,
		id:      b.nextID,
		backlog: b.backlog,
		notify:  make(chan struct{}, 1),
		out:     make(chan T),
		done:    make(chan struct{}),
	}
	b.subs[s.id] = s
	go s.pump()
	return s, nil
}

// Publish enqueues v for every current subscriber. It never blocks on
// delivery.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for id, s := range b.subs {
		if !s.enqueue(v) {
			delete(b.subs, id)
		}
	}
}

// Len returns the number of attached subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close detaches every subscriber. Values already queued are still
// delivered, then each subscription channel is closed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.finish(nil)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
