package event

import (
	"sync"
)

// Subscription is a single consumer's view of a Broadcaster. Events are
// delivered on a bounded buffered channel; the channel is closed when the
// subscription is cancelled, the broadcaster closes, or the subscriber
// falls behind by more than the buffer size.
type Subscription[E any] struct {
	sync.Mutex

	id string
	b  *Broadcaster[E]

	closed bool
	ch     chan E
}

func newSubscription[E any](b *Broadcaster[E], id string, bufferSize int) *Subscription[E] {
	return &Subscription[E]{
		id: id,
		b:  b,
		ch: make(chan E, bufferSize),
	}
}

func (s *Subscription[E]) ID() string {
	return s.id
}

// Events returns the delivery channel. It is closed when the subscription
// terminates; a range loop over it ends cleanly.
func (s *Subscription[E]) Events() <-chan E {
	return s.ch
}

// Cancel stops delivery to this subscription only; other subscriptions on
// the same broadcaster are unaffected. Safe to call more than once.
func (s *Subscription[E]) Cancel() {
	s.b.remove(s.id)
	s.close()
}

func (s *Subscription[E]) close() {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return
	}

	s.closed = true
	close(s.ch)
}

// notify performs a non-blocking send, reporting false when the buffer is
// full. The caller decides the subscription's fate on overflow.
func (s *Subscription[E]) notify(e E) bool {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return true
	}

	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}
