package component

import (
	"fmt"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
	"github.com/Elon-Abulafia/PipeRT/routine"
)

// Bindable is implemented by workers that observe the component stop signal
type Bindable interface {
	Bind(stop *routine.StopSignal, owner string) error
}

// queueUser is implemented by workers that declare the queues they use
type queueUser interface {
	UsesQueue(h queue.Handle) bool
}

// RegisterRoutine adds w to the component. Bindable workers receive the
// shared stop signal; a worker already bound elsewhere fails with
// ErrAlreadyRegistered. Workers can only be registered before Run.
func (c *Component) RegisterRoutine(w worker.Worker) error {
	if w == nil {
		return errors.WrapInvalid(fmt.Errorf("nil worker"), "Component", "RegisterRoutine", "validate worker")
	}
	// held until the worker is appended so Run cannot snapshot in between
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.Lifecycle() != Created {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Component", "RegisterRoutine",
			fmt.Sprintf("register %q", w.Name()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.workers {
		if existing == w || existing.Name() == w.Name() {
			return errors.Wrap(errors.ErrAlreadyRegistered, "Component", "RegisterRoutine",
				fmt.Sprintf("register %q", w.Name()))
		}
	}

	if b, ok := w.(Bindable); ok {
		if err := b.Bind(c.stop, c.name); err != nil {
			return err
		}
	}

	c.workers = append(c.workers, w)
	c.logger.Debug("Worker registered", "worker", w.Name(), "kind", w.Kind().String())
	return nil
}

// AddRoutine wraps logic in a routine that logs through the component's
// logger and reports to its metrics, then registers it
func (c *Component) AddRoutine(name string, logic routine.Logic, opts ...routine.Option) (*routine.Routine, error) {
	base := []routine.Option{
		routine.WithLogger(c.baseLogger),
		routine.WithMetrics(c.CoreMetrics()),
	}
	r := routine.New(name, logic, append(base, opts...)...)
	if err := c.RegisterRoutine(r); err != nil {
		return nil, err
	}
	return r, nil
}

// RemoveRoutine removes the genuine routine called name. Opaque workers are
// never removed and the call is a no-op for unknown names. Removal is only
// possible before Run.
func (c *Component) RemoveRoutine(name string) bool {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.Lifecycle() != Created {
		c.logger.Warn("Cannot remove routine after start", "routine", name)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.workers {
		if w.Kind() == worker.KindRoutine && w.Name() == name {
			c.workers = append(c.workers[:i:i], c.workers[i+1:]...)
			return true
		}
	}
	return false
}

// RoutineExists reports whether any registered worker is called name
func (c *Component) RoutineExists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, w := range c.workers {
		if w.Name() == name {
			return true
		}
	}
	return false
}

// RoutinesUseQueue reports whether a registered routine declared the queue
// called name. It is false for unknown queues.
func (c *Component) RoutinesUseQueue(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	h, ok := c.queues[name]
	if !ok {
		return false
	}
	for _, w := range c.workers {
		if u, ok := w.(queueUser); ok && u.UsesQueue(h) {
			return true
		}
	}
	return false
}

// Workers returns the registered workers in registration order
func (c *Component) Workers() []worker.Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]worker.Worker(nil), c.workers...)
}
