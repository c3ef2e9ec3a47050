// Package memory is an in-process transport. Handlers opened with the same
// store name share entries, so components running in one process can be
// wired together without a broker.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

var (
	storesMu sync.Mutex
	stores   = make(map[string]*Store)
)

// Shared returns the process-wide store called name, creating it with maxLen
// entries per key on first use
func Shared(name string, maxLen int) *Store {
	storesMu.Lock()
	defer storesMu.Unlock()

	if s, ok := stores[name]; ok {
		return s
	}
	s := NewStore(maxLen)
	stores[name] = s
	return s
}

// Store keeps the last maxLen entries for every key
type Store struct {
	maxLen int

	mu      sync.RWMutex
	streams map[string]*ring
}

type ring struct {
	items [][]byte
	head  int
	size  int
}

func (r *ring) push(data []byte) {
	r.items[(r.head+r.size)%len(r.items)] = data
	if r.size < len(r.items) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.items)
}

func (r *ring) newest() []byte {
	if r.size == 0 {
		return nil
	}
	return r.items[(r.head+r.size-1)%len(r.items)]
}

// NewStore creates an unshared store; maxLen <= 0 uses transport.DefaultMaxLen
func NewStore(maxLen int) *Store {
	if maxLen <= 0 {
		maxLen = transport.DefaultMaxLen
	}
	return &Store{maxLen: maxLen, streams: make(map[string]*ring)}
}

// Append stores a copy of data under key, evicting the oldest entry when the
// key already holds maxLen entries
func (s *Store) Append(key string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.streams[key]
	if !ok {
		r = &ring{items: make([][]byte, s.maxLen)}
		s.streams[key] = r
	}
	r.push(cp)
}

// Latest returns the newest entry under key, nil when there is none. The
// returned slice must not be modified.
func (s *Store) Latest(key string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.streams[key]; ok {
		return r.newest()
	}
	return nil
}

// Len returns the number of entries held under key
func (s *Store) Len(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.streams[key]; ok {
		return r.size
	}
	return 0
}

// Keys returns every key holding entries, sorted
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MaxLen returns the per-key capacity
func (s *Store) MaxLen() int { return s.maxLen }

// Handler is a transport.Handler over a Store
type Handler struct {
	store     *Store
	connected atomic.Bool
}

// New returns a handler over store
func New(store *Store) *Handler {
	return &Handler{store: store}
}

// Store returns the backing store
func (h *Handler) Store() *Store { return h.store }

// Connect marks the handler usable
func (h *Handler) Connect(context.Context) error {
	h.connected.Store(true)
	return nil
}

// Receive returns the newest entry under key
func (h *Handler) Receive(_ context.Context, key string) ([]byte, error) {
	if !h.connected.Load() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "memory", "Receive", "read "+key)
	}
	return h.store.Latest(key), nil
}

// Send appends data under key
func (h *Handler) Send(_ context.Context, key string, data []byte) error {
	if !h.connected.Load() {
		return errors.WrapTransient(errors.ErrNoConnection, "memory", "Send", "write "+key)
	}
	h.store.Append(key, data)
	return nil
}

// Close marks the handler unusable; stored entries are kept for other handlers
func (h *Handler) Close(context.Context) error {
	h.connected.Store(false)
	return nil
}
