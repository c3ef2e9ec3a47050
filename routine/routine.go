package routine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
)

// Lifecycle is the routine state machine position
type Lifecycle int32

const (
	Unbound Lifecycle = iota
	Bound
	Running
	Stopping
	Terminated
)

func (l Lifecycle) String() string {
	switch l {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a routine's loop counters
type Stats struct {
	Lifecycle  string           `json:"lifecycle"`
	Iterations int64            `json:"iterations"`
	Worked     int64            `json:"worked"`
	Idle       int64            `json:"idle"`
	Errors     int64            `json:"errors"`
	Dropped    int64            `json:"dropped"`
	LastError  string           `json:"last_error,omitempty"`
	StartedAt  time.Time        `json:"started_at,omitempty"`
	StoppedAt  time.Time        `json:"stopped_at,omitempty"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// Option configures a Routine
type Option func(*Routine)

// WithQueues declares the queues the routine reads or writes
func WithQueues(handles ...queue.Handle) Option {
	return func(r *Routine) {
		r.queues = append(r.queues, handles...)
	}
}

// WithLogger sets the base logger; Bind adds component and routine attributes
func WithLogger(logger *slog.Logger) Option {
	return func(r *Routine) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics reports iterations, errors and drops to the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Routine) {
		r.metrics = m
	}
}

// Routine drives a Logic on its own goroutine
type Routine struct {
	name    string
	logic   Logic
	logger  *slog.Logger
	metrics *metric.Metrics
	queues  []queue.Handle

	mu        sync.Mutex
	stop      *StopSignal
	owner     string
	state     *State
	done      chan struct{}
	err       error
	startedAt time.Time
	stoppedAt time.Time
	lastErr   string

	lifecycle  atomic.Int32
	iterations atomic.Int64
	worked     atomic.Int64
	idle       atomic.Int64
	errCount   atomic.Int64

	errLog        rate.Sometimes
	droppedMetric int64
}

// New creates an unbound routine
func New(name string, logic Logic, opts ...Option) *Routine {
	r := &Routine{
		name:   name,
		logic:  logic,
		logger: slog.Default(),
		errLog: rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the routine name
func (r *Routine) Name() string { return r.name }

// Kind identifies the routine variant of worker.Worker
func (r *Routine) Kind() worker.Kind { return worker.KindRoutine }

// Owner returns the name of the component the routine is bound to
func (r *Routine) Owner() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner
}

// Lifecycle returns the current state machine position
func (r *Routine) Lifecycle() Lifecycle {
	return Lifecycle(r.lifecycle.Load())
}

// Bind attaches the shared stop signal. A routine can be bound only once,
// so it can never belong to two components.
func (r *Routine) Bind(stop *StopSignal, owner string) error {
	if stop == nil {
		return errors.WrapInvalid(fmt.Errorf("nil stop signal"), "Routine", "Bind", r.name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return errors.Wrap(errors.ErrAlreadyRegistered, "Routine", "Bind",
			fmt.Sprintf("bind %q to %q (owned by %q)", r.name, owner, r.owner))
	}

	r.stop = stop
	r.owner = owner
	r.logger = r.logger.With("component", owner, "routine", r.name)
	r.lifecycle.Store(int32(Bound))
	return nil
}

// Start launches the loop on a new goroutine
func (r *Routine) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop == nil {
		return errors.Wrap(errors.ErrNotRegistered, "Routine", "Start", r.name)
	}
	if r.done != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Routine", "Start", r.name)
	}

	r.done = make(chan struct{})
	r.state = newState(r.name, r.owner, r.logger)
	r.startedAt = time.Now()
	r.lifecycle.Store(int32(Running))

	go r.run(ctx, r.state, r.done)
	return nil
}

func (r *Routine) run(ctx context.Context, st *State, done chan struct{}) {
	var err error
	defer func() {
		r.mu.Lock()
		r.err = err
		r.stoppedAt = time.Now()
		r.mu.Unlock()
		r.lifecycle.Store(int32(Terminated))
		close(done)
	}()

	if err = r.setup(ctx, st); err != nil {
		r.logger.Error("Routine setup failed", "error", err)
		return
	}
	r.logger.Debug("Routine started")

	if r.metrics != nil {
		r.metrics.RoutineEntered(r.owner)
		defer r.metrics.RoutineExited(r.owner)
	}

	err = r.loop(ctx, st)
	r.lifecycle.Store(int32(Stopping))
	if err != nil {
		r.logger.Error("Routine loop aborted", "error", err)
	}

	// cleanup always gets an uncancelled ctx carrying the same values
	if cerr := r.cleanup(context.WithoutCancel(ctx), st); cerr != nil {
		r.logger.Error("Routine cleanup failed", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	r.logger.Debug("Routine terminated", "iterations", r.iterations.Load())
}

func (r *Routine) setup(ctx context.Context, st *State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		if err != nil {
			err = errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrSetupFailed, err), "Routine", "Setup", r.name)
		}
	}()
	return r.logic.Setup(ctx, st)
}

func (r *Routine) cleanup(ctx context.Context, st *State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: cleanup: %v", errors.ErrRoutinePanic, p)
		}
		if err != nil {
			err = errors.Wrap(err, "Routine", "Cleanup", r.name)
		}
	}()
	return r.logic.Cleanup(ctx, st)
}

func (r *Routine) loop(ctx context.Context, st *State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.WrapFatal(
				fmt.Errorf("%w: %v\n%s", errors.ErrRoutinePanic, p, debug.Stack()),
				"Routine", "MainLogic", r.name)
		}
	}()

	stopped := r.stop.Done()
	for {
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		outcome, merr := r.logic.MainLogic(ctx, st)
		r.record(st, outcome, merr)

		if outcome == Idle {
			runtime.Gosched()
		}
	}
}

func (r *Routine) record(st *State, outcome Outcome, err error) {
	r.iterations.Add(1)
	if outcome == Worked {
		r.worked.Add(1)
	} else {
		r.idle.Add(1)
	}

	if err != nil {
		r.errCount.Add(1)
		r.mu.Lock()
		r.lastErr = err.Error()
		r.mu.Unlock()
		r.errLog.Do(func() {
			r.logger.Warn("Main logic failed", "error", err, "errors", r.errCount.Load())
		})
	}

	if r.metrics == nil {
		return
	}
	r.metrics.RecordIteration(r.owner, r.name, outcome == Worked)
	if err != nil {
		r.metrics.RecordRoutineError(r.owner, r.name)
	}
	if dropped := st.Counter(DroppedKey); dropped > r.droppedMetric {
		r.metrics.RecordDropped(r.owner, r.name, int(dropped-r.droppedMetric))
		r.droppedMetric = dropped
	}
}

// Join waits for the routine to terminate and returns the setup, panic or
// cleanup error. It is idempotent; joining an unstarted routine returns nil.
func (r *Routine) Join(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return r.Err()
	default:
	}

	select {
	case <-done:
		return r.Err()
	case <-ctx.Done():
		return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrJoinFailed, ctx.Err()), "Routine", "Join", r.name)
	}
}

// Err returns the terminal error once the routine has terminated
func (r *Routine) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Running reports whether the routine has started and not yet terminated
func (r *Routine) Running() bool {
	l := r.Lifecycle()
	return l == Running || l == Stopping
}

// Counter returns a state counter, 0 before the first Start
func (r *Routine) Counter(key string) int64 {
	r.mu.Lock()
	st := r.state
	r.mu.Unlock()
	if st == nil {
		return 0
	}
	return st.Counter(key)
}

// Stats returns a snapshot of the loop counters
func (r *Routine) Stats() Stats {
	r.mu.Lock()
	st := r.state
	s := Stats{
		LastError: r.lastErr,
		StartedAt: r.startedAt,
		StoppedAt: r.stoppedAt,
	}
	r.mu.Unlock()

	s.Lifecycle = r.Lifecycle().String()
	s.Iterations = r.iterations.Load()
	s.Worked = r.worked.Load()
	s.Idle = r.idle.Load()
	s.Errors = r.errCount.Load()
	if st != nil {
		s.Counters = st.Counters()
		s.Dropped = s.Counters[DroppedKey]
	}
	return s
}

// UsesQueue reports whether h was declared with WithQueues
func (r *Routine) UsesQueue(h queue.Handle) bool {
	for _, q := range r.queues {
		if q == h {
			return true
		}
	}
	return false
}

// Queues returns the declared queues
func (r *Routine) Queues() []queue.Handle {
	out := make([]queue.Handle, len(r.queues))
	copy(out, r.queues)
	return out
}
