package component

import (
	"fmt"
	"sort"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
)

// CreateQueue allocates a queue of capacity items (1 when capacity <= 0).
// It returns false and logs the conflict when name is already taken; the
// existing queue is left untouched.
func CreateQueue[T any](c *Component, name string, capacity int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.queues[name]; ok {
		c.logger.Warn("Queue already exists", "queue", name, "capacity", existing.Cap())
		return false
	}

	opts := []queue.Option[T]{queue.WithName[T](name)}
	if c.registry != nil {
		opts = append(opts, queue.WithMetrics[T](c.registry, c.name))
	}

	q, err := queue.New[T](capacity, opts...)
	if err != nil {
		c.logger.Error("Failed to create queue", "queue", name, "error", err)
		return false
	}

	c.queues[name] = q
	return true
}

// GetQueue returns the queue called name. It fails with ErrQueueNotFound
// when no such queue exists and ErrQueueTypeMismatch when it holds another
// element type.
func GetQueue[T any](c *Component, name string) (*queue.Queue[T], error) {
	c.mu.RLock()
	h, ok := c.queues[name]
	c.mu.RUnlock()

	if !ok {
		return nil, errors.Wrap(errors.ErrQueueNotFound, "Component", "GetQueue", fmt.Sprintf("lookup %q", name))
	}

	q, ok := h.(*queue.Queue[T])
	if !ok {
		var zero T
		return nil, errors.Wrap(errors.ErrQueueTypeMismatch, "Component", "GetQueue",
			fmt.Sprintf("lookup %q as %T", name, zero))
	}
	return q, nil
}

// MustQueue is GetQueue for wiring code that created the queue itself
func MustQueue[T any](c *Component, name string) *queue.Queue[T] {
	q, err := GetQueue[T](c, name)
	if err != nil {
		panic(err)
	}
	return q
}

// Queue returns the type-erased queue called name
func (c *Component) Queue(name string) (queue.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.queues[name]
	return h, ok
}

// QueueNames returns every queue name in sorted order
func (c *Component) QueueNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.queues))
	for n := range c.queues {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// QueueExists reports whether a queue called name exists
func (c *Component) QueueExists(name string) bool {
	_, ok := c.Queue(name)
	return ok
}

// DeleteQueue closes and forgets the queue called name
func (c *Component) DeleteQueue(name string) error {
	c.mu.Lock()
	h, ok := c.queues[name]
	if ok {
		delete(c.queues, name)
	}
	c.mu.Unlock()

	if !ok {
		return errors.Wrap(errors.ErrQueueNotFound, "Component", "DeleteQueue", fmt.Sprintf("delete %q", name))
	}
	if closer, ok := h.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
