package routine

import (
	"context"
	"sync"
)

// StopSignal is a cancellation token shared by a component and its routines.
// The zero value is not usable; create one with NewStopSignal.
type StopSignal struct {
	mu  sync.Mutex
	ch  chan struct{} // closed while the signal is set
	set bool
}

// NewStopSignal returns a signal in the given initial state
func NewStopSignal(set bool) *StopSignal {
	s := &StopSignal{ch: make(chan struct{})}
	if set {
		s.set = true
		close(s.ch)
	}
	return s
}

// Set marks the signal; it is safe to call repeatedly and concurrently
func (s *StopSignal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear resets the signal so a new run can start
func (s *StopSignal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

// IsSet reports whether a stop has been requested
func (s *StopSignal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Done returns a channel closed when the signal is set. A channel obtained
// before Clear stays closed; fetch a new one after clearing.
func (s *StopSignal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch
}

// Wait blocks until the signal is set or ctx is done
func (s *StopSignal) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context returns a child of parent cancelled when the signal is set
func (s *StopSignal) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	done := s.Done()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
