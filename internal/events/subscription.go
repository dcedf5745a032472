package events

import (
	"sync"
)

// subscriptionBuffer bounds the per-subscription frame queue. A subscriber
// that falls this far behind is treated as dead.
const subscriptionBuffer = 64

// Subscription is one live attachment to an event stream. Frames arrive on
// Frames(); the channel closes when the subscription completes, after which
// Err() reports why.
type Subscription struct {
	id        uint64
	processID string
	frames    chan Frame

	mu     sync.Mutex
	closed bool
	err    error
}

// Frames returns the delivery channel. It is closed on completion.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// ProcessID returns the target id this subscription is attached to, or ""
// for a wildcard subscription.
func (s *Subscription) ProcessID() string { return s.processID }

// Err reports the completion cause, nil for a clean client close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// send queues a frame without blocking. A full buffer means the client is
// too slow; the write fails and the caller reaps the subscription.
func (s *Subscription) send(f Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- f:
		return true
	default:
		return false
	}
}

// complete closes the subscription with the given cause. Idempotent.
func (s *Subscription) complete(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}
