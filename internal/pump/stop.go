package pump

import "sync"

// StopHandle is a one-shot broadcast wake: once fired, every current and
// future waiter observes it. Firing more than once is a no-op.
type StopHandle struct {
	once sync.Once
	ch   chan struct{}
}

// NewStopHandle returns a handle in the unfired state.
func NewStopHandle() *StopHandle {
	return &StopHandle{ch: make(chan struct{})}
}

// Stop fires the handle. Idempotent.
func (s *StopHandle) Stop() {
	s.once.Do(func() { close(s.ch) })
}

// Wait returns a channel that closes when Stop is called. Safe to read from
// many goroutines and select against any number of times.
func (s *StopHandle) Wait() <-chan struct{} {
	return s.ch
}

// Fired reports whether Stop has already been called.
func (s *StopHandle) Fired() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}
