package fetch

import "context"

// Semaphore is a simple counting semaphore gating concurrent whole-file
// loads. It is grounded on the admission/wait idiom in the teacher's
// ConnectionPool (waiterChan + ctx.Done() select), stripped down to just
// the gate — this package has no notion of idle connections, validation,
// or lifetimes to manage, and net/http's own Transport already pools the
// underlying TCP connections, so there is no connection object left here
// for a pool to own.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a Semaphore with n initial slots. The download
// session constructs one per session with n=1, serializing whole-file
// loads across its file fetchers.
func NewSemaphore(n int) *Semaphore {
	if n < 1 {
		n = 1
	}
	s := &Semaphore{slots: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		s.slots <- struct{}{}
	}
	return s
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case <-s.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the pool.
func (s *Semaphore) Release() {
	select {
	case s.slots <- struct{}{}:
	default:
	}
}
