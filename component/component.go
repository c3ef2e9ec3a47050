package component

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Elon-Abulafia/PipeRT/health"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
	"github.com/Elon-Abulafia/PipeRT/routine"
)

// Lifecycle is the component state machine position
type Lifecycle int32

const (
	Created Lifecycle = iota
	Running
	Stopping
	Stopped
)

func (l Lifecycle) String() string {
	switch l {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultShutdownTimeout bounds how long StopRun waits for workers to join
const DefaultShutdownTimeout = 30 * time.Second

// TeardownFunc releases resources the stop signal does not reach
type TeardownFunc func(ctx context.Context) error

// Option configures a Component
type Option func(*Component)

// WithEndpoint sets the control endpoint address, e.g. "tcp://0.0.0.0:4242"
func WithEndpoint(endpoint string) Option {
	return func(c *Component) {
		c.endpoint = endpoint
	}
}

// WithTeardown sets the hook StopRun calls before joining workers
func WithTeardown(fn TeardownFunc) Option {
	return func(c *Component) {
		c.teardown = fn
	}
}

// WithLogger sets the base logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Component) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables queue metrics and component status reporting
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Component) {
		c.registry = registry
	}
}

// WithMetricsServer starts srv during Run and stops it during StopRun
func WithMetricsServer(srv *metric.Server) Option {
	return func(c *Component) {
		c.metricsServer = srv
	}
}

// WithSignals controls whether Run translates SIGTERM and SIGINT into StopRun.
// Enabled by default.
func WithSignals(enabled bool) Option {
	return func(c *Component) {
		c.handleSignals = enabled
	}
}

// WithShutdownTimeout bounds the joins performed by StopRun
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Component) {
		if d > 0 {
			c.shutdownTimeout = d
		}
	}
}

// Component owns named queues and an ordered list of workers
type Component struct {
	name            string
	endpoint        string
	logger          *slog.Logger
	baseLogger      *slog.Logger
	stop            *routine.StopSignal
	teardown        TeardownFunc
	registry        *metric.MetricsRegistry
	metricsServer   *metric.Server
	handleSignals   bool
	shutdownTimeout time.Duration

	mu      sync.RWMutex
	queues  map[string]queue.Handle
	workers []worker.Worker

	// lifeMu serializes the Created->Running and ->Stopping transitions
	lifeMu    sync.Mutex
	lifecycle atomic.Int32
	startErr  error

	runOnce    sync.Once
	runStatus  int
	stopOnce   sync.Once
	stopStatus int
	stopped    chan struct{}
}

// New creates a component in the Created state with its stop signal set
func New(name string, opts ...Option) *Component {
	c := &Component{
		name:            name,
		logger:          slog.Default(),
		stop:            routine.NewStopSignal(true),
		handleSignals:   true,
		shutdownTimeout: DefaultShutdownTimeout,
		queues:          make(map[string]queue.Handle),
		stopped:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseLogger = c.logger
	c.logger = c.logger.With("component", name)

	if c.registry != nil {
		c.registry.CoreMetrics().RecordComponentStatus(name, metric.StatusCreated)
	}
	return c
}

// Name returns the component name
func (c *Component) Name() string { return c.name }

// Endpoint returns the control endpoint address
func (c *Component) Endpoint() string { return c.endpoint }

// Logger returns the component logger
func (c *Component) Logger() *slog.Logger { return c.logger }

// Metrics returns the metrics registry, nil when metrics are disabled
func (c *Component) Metrics() *metric.MetricsRegistry { return c.registry }

// CoreMetrics returns the runtime metrics for routine options, or nil
func (c *Component) CoreMetrics() *metric.Metrics {
	if c.registry == nil {
		return nil
	}
	return c.registry.CoreMetrics()
}

// StopSignal returns the shared stop signal
func (c *Component) StopSignal() *routine.StopSignal { return c.stop }

// Lifecycle returns the current state machine position
func (c *Component) Lifecycle() Lifecycle { return Lifecycle(c.lifecycle.Load()) }

// Done is closed once StopRun has finished
func (c *Component) Done() <-chan struct{} { return c.stopped }

// Health aggregates the health of every worker
func (c *Component) Health() health.Status {
	expected := c.Lifecycle() == Running

	c.mu.RLock()
	workers := append([]worker.Worker(nil), c.workers...)
	c.mu.RUnlock()

	checks := make([]health.Status, 0, len(workers))
	for _, w := range workers {
		facts := health.WorkerFacts{Running: w.Running(), Expected: expected}
		if e, ok := w.(interface{ Err() error }); ok {
			facts.Err = e.Err()
		}
		if s, ok := w.(interface{ Stats() routine.Stats }); ok {
			st := s.Stats()
			facts.Iterations = st.Iterations
			facts.Errors = st.Errors
		}
		checks = append(checks, health.ForWorker(w.Name(), facts))
	}
	return health.Aggregate(c.name, checks)
}
