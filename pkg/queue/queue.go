package queue

import (
	stderrors "errors"
	"sync"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

var (
	// ErrFull is returned by TryPut when the queue is at capacity
	ErrFull = stderrors.New("queue is full")
	// ErrClosed is returned by TryPut after Close
	ErrClosed = stderrors.New("queue is closed")
)

// DefaultCapacity is the capacity used when New is given a non-positive value
const DefaultCapacity = 1

// Handle is the element-type-independent view of a queue
type Handle interface {
	Name() string
	Len() int
	Cap() int
	Stats() StatsSummary
}

// Queue is a bounded FIFO with non-blocking put and get
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int // next read position
	size    int
	closed  bool
	name    string
	stats   Statistics
	metrics *queueMetrics
	opts    *options[T]
}

// New creates a queue holding at most capacity items
func New[T any](capacity int, opts ...Option[T]) (*Queue[T], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	o := applyOptions(opts...)
	q := &Queue[T]{
		items: make([]T, capacity),
		name:  o.name,
		opts:  o,
	}

	if o.metricsReg != nil {
		m, err := newQueueMetrics(o.metricsReg, o.metricsPrefix, q.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "Queue", "New", "metrics registration")
		}
		q.metrics = m
	}

	return q, nil
}

// Name returns the name given with WithName
func (q *Queue[T]) Name() string {
	return q.name
}

// TryPut appends item, failing with ErrFull instead of blocking
func (q *Queue[T]) TryPut(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.size == len(q.items) {
		q.stats.reject()
		if q.metrics != nil {
			q.metrics.rejects.Inc()
		}
		return ErrFull
	}

	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++

	q.stats.put(q.size)
	if q.metrics != nil {
		q.metrics.puts.Inc()
		q.metrics.depth.Set(float64(q.size))
	}
	return nil
}

// TryGet removes and returns the oldest item; ok is false when empty
func (q *Queue[T]) TryGet() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--

	q.stats.get(q.size)
	if q.metrics != nil {
		q.metrics.gets.Inc()
		q.metrics.depth.Set(float64(q.size))
	}
	return item, true
}

// Peek returns the oldest item without removing it
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

// Drain removes every queued item, oldest first
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.size)
	for {
		item, ok := q.popLocked()
		if !ok {
			return out
		}
		out = append(out, item)
	}
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the capacity; it never changes
func (q *Queue[T]) Cap() int {
	return len(q.items)
}

// IsFull reports whether TryPut would fail
func (q *Queue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == len(q.items)
}

// IsEmpty reports whether TryGet would fail
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Stats returns a snapshot of the queue statistics
func (q *Queue[T]) Stats() StatsSummary {
	return q.stats.Summary()
}

// Close rejects further puts and unregisters metrics. Queued items stay readable.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if q.metrics != nil {
		unregisterQueueMetrics(q.opts.metricsReg, q.opts.metricsPrefix, q.name)
		q.metrics = nil
	}
	return nil
}
