package broadcast

import "sync"

// Subscription is one subscriber's ordered view of a Broadcaster.
type Subscription[T any] struct {
	b       *Broadcaster[T]
	id      uint64
	backlog int

	mu    sync.Mutex
	queue []T
	ended bool
	err   error

	notify    chan struct{}
	out       chan T
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the delivery channel. It is closed after Close, after the
// Broadcaster is closed and drained, or when the subscriber falls too far
// behind (see Err).
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Err reports why the subscription ended, if it ended abnormally.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscriber and discards undelivered values. It is safe
// to call more than once.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.b.remove(s.id)
	})
}

// enqueue appends v; it reports false when the backlog is exceeded and the
// subscription has been ended.
func (s *Subscription[T]) enqueue(v T) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.backlog {
		s.mu.Unlock()
		s.finish(ErrSlowConsumer)
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
	return true
}

// finish marks the stream ended. With a nil err queued values are drained
// first; with an error the queue is dropped.
func (s *Subscription[T]) finish(err error) {
	s.mu.Lock()
	if !s.ended {
		s.ended = true
		s.err = err
		if err != nil {
			s.queue = nil
		}
	}
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
