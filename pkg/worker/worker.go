package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Elon-Abulafia/PipeRT/errors"
)

// Kind tags the worker variant
type Kind int

const (
	KindRoutine Kind = iota
	KindBackground
	KindProcess
)

func (k Kind) String() string {
	switch k {
	case KindRoutine:
		return "routine"
	case KindBackground:
		return "background"
	case KindProcess:
		return "process"
	default:
		return "unknown"
	}
}

// Worker is anything a component can start and wait for
type Worker interface {
	Name() string
	Kind() Kind
	// Start launches the worker and returns without waiting for it.
	// Cancelling ctx asks the worker to stop.
	Start(ctx context.Context) error
	// Join waits for the worker to finish and returns its terminal error.
	// Joining a worker that was never started returns nil.
	Join(ctx context.Context) error
	// Running reports whether the worker has started and not yet finished
	Running() bool
}

// completion records the outcome of a worker exactly once
type completion struct {
	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

func (c *completion) begin(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Worker", "Start", name)
	}
	c.started = true
	c.done = make(chan struct{})
	return nil
}

func (c *completion) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	close(c.done)
}

func (c *completion) join(ctx context.Context, name string) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return c.Err()
	default:
	}

	select {
	case <-done:
		return c.Err()
	case <-ctx.Done():
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrJoinFailed, ctx.Err()), "Worker", "Join", name)
	}
}

// Err returns the terminal error once the worker has finished
func (c *completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *completion) running() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Background runs a function on its own goroutine
type Background struct {
	name string
	fn   func(ctx context.Context) error
	completion
}

// NewBackground wraps fn as a worker. fn must return once ctx is cancelled.
func NewBackground(name string, fn func(ctx context.Context) error) (*Background, error) {
	if fn == nil {
		return nil, errors.WrapInvalid(ErrNilFunc, "Background", "New", name)
	}
	return &Background{name: name, fn: fn}, nil
}

// Name returns the worker name
func (b *Background) Name() string { return b.name }

// Kind returns KindBackground
func (b *Background) Kind() Kind { return KindBackground }

// Start launches fn; a panic inside fn is returned from Join
func (b *Background) Start(ctx context.Context) error {
	if err := b.begin(b.name); err != nil {
		return err
	}

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %s: %v\n%s", errors.ErrRoutinePanic, b.name, r, debug.Stack())
			}
			b.finish(err)
		}()
		err = b.fn(ctx)
		if stderrors.Is(err, context.Canceled) {
			err = nil
		}
	}()
	return nil
}

// Join waits for fn to return
func (b *Background) Join(ctx context.Context) error { return b.join(ctx, b.name) }

// Running reports whether fn is executing
func (b *Background) Running() bool { return b.running() }
