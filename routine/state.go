package routine

import (
	"log/slog"
	"sync"
)

// DroppedKey is the state counter incremented by PutLatest
const DroppedKey = "dropped"

// State is a routine's private key/value bag. It is created fresh for each
// run and handed to every Logic call. Counters are also read by Stats, so
// access goes through a mutex.
type State struct {
	mu        sync.Mutex
	values    map[string]any
	counters  map[string]int64
	routine   string
	component string
	logger    *slog.Logger
}

func newState(routine, component string, logger *slog.Logger) *State {
	return &State{
		values:    make(map[string]any),
		counters:  make(map[string]int64),
		routine:   routine,
		component: component,
		logger:    logger,
	}
}

// NewState creates a detached state bag, for driving a Logic outside a Routine
func NewState(routine, component string, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return newState(routine, component, logger)
}

// Routine returns the owning routine's name
func (s *State) Routine() string { return s.routine }

// Component returns the owning component's name
func (s *State) Component() string { return s.component }

// Logger returns a logger carrying the component and routine attributes
func (s *State) Logger() *slog.Logger { return s.logger }

// Set stores v under key
func (s *State) Set(key string, v any) {
	s.mu.Lock()
	s.values[key] = v
	s.mu.Unlock()
}

// Get returns the value stored under key
func (s *State) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Delete removes key
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Value returns the value under key if it has type T
func Value[T any](s *State, key string) (T, bool) {
	v, ok := s.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Add adds n to the counter under key and returns the new value
func (s *State) Add(key string, n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key] += n
	return s.counters[key]
}

// Inc adds one to the counter under key
func (s *State) Inc(key string) int64 {
	return s.Add(key, 1)
}

// Counter returns the counter under key, 0 if never touched
func (s *State) Counter(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key]
}

// ResetCounter sets the counter under key to zero
func (s *State) ResetCounter(key string) {
	s.mu.Lock()
	s.counters[key] = 0
	s.mu.Unlock()
}

// Counters returns a copy of every counter
func (s *State) Counters() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}
