package component

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/worker"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/testutil"
)

func newTestComponent(name string, opts ...Option) *Component {
	opts = append([]Option{WithSignals(false), WithShutdownTimeout(5 * time.Second)}, opts...)
	return New(name, opts...)
}

// runAsync runs c on a goroutine and waits until it reports Running
func runAsync(t *testing.T, c *Component) <-chan int {
	t.Helper()
	status := testutil.RunAsync(context.Background(), c)
	require.Eventually(t, func() bool {
		return c.Lifecycle() != Created
	}, 2*time.Second, time.Millisecond)
	return status
}

func waitStatus(t *testing.T, status <-chan int) int {
	return testutil.WaitStatus(t, status)
}

func TestNew_Defaults(t *testing.T) {
	c := New("cam", WithEndpoint("tcp://0.0.0.0:4242"))
	assert.Equal(t, "cam", c.Name())
	assert.Equal(t, "tcp://0.0.0.0:4242", c.Endpoint())
	assert.Equal(t, Created, c.Lifecycle())
	assert.True(t, c.StopSignal().IsSet(), "stop signal starts set")
	assert.Nil(t, c.Metrics())
	assert.Nil(t, c.CoreMetrics())
	assert.Empty(t, c.QueueNames())
}

func TestLifecycle_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "stopping", Stopping.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", Lifecycle(42).String())
}

func TestCreateQueue_NamesAreUnique(t *testing.T) {
	c := newTestComponent("c")

	require.True(t, CreateQueue[int](c, "frames", 1))
	q := MustQueue[int](c, "frames")
	require.NoError(t, q.TryPut(7))

	assert.False(t, CreateQueue[int](c, "frames", 10))
	assert.False(t, CreateQueue[string](c, "frames", 10))

	again := MustQueue[int](c, "frames")
	assert.Same(t, q, again)
	assert.Equal(t, 1, again.Cap())
	v, ok := again.TryGet()
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestCreateQueue_DefaultCapacity(t *testing.T) {
	c := newTestComponent("c")
	require.True(t, CreateQueue[int](c, "q", 0))
	assert.Equal(t, queue.DefaultCapacity, MustQueue[int](c, "q").Cap())
}

func TestGetQueue_Lookup(t *testing.T) {
	c := newTestComponent("c")
	require.True(t, CreateQueue[[]byte](c, "frames", 2))

	q, err := GetQueue[[]byte](c, "frames")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Cap())

	_, err = GetQueue[[]byte](c, "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrQueueNotFound)
	assert.True(t, pipeerrors.IsInvalid(err))

	_, err = GetQueue[string](c, "frames")
	assert.ErrorIs(t, err, pipeerrors.ErrQueueTypeMismatch)

	assert.Panics(t, func() { MustQueue[int](c, "missing") })
}

func TestQueueBookkeeping(t *testing.T) {
	c := newTestComponent("c")
	require.True(t, CreateQueue[int](c, "b", 1))
	require.True(t, CreateQueue[int](c, "a", 1))

	assert.Equal(t, []string{"a", "b"}, c.QueueNames())
	assert.True(t, c.QueueExists("a"))
	assert.False(t, c.QueueExists("z"))

	q := MustQueue[int](c, "a")
	require.NoError(t, c.DeleteQueue("a"))
	assert.False(t, c.QueueExists("a"))
	assert.ErrorIs(t, q.TryPut(1), queue.ErrClosed)

	assert.ErrorIs(t, c.DeleteQueue("a"), pipeerrors.ErrQueueNotFound)
	assert.True(t, CreateQueue[string](c, "a", 3), "name is free after delete")
}

func TestRegisterRoutine_BindOnceAcrossComponents(t *testing.T) {
	c1 := newTestComponent("c1")
	c2 := newTestComponent("c2")
	r := routine.New("r", routine.Funcs{})

	require.NoError(t, c1.RegisterRoutine(r))
	assert.Equal(t, "c1", r.Owner())

	err := c2.RegisterRoutine(r)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeerrors.ErrAlreadyRegistered)
	assert.False(t, c2.RoutineExists("r"))
	assert.Equal(t, "c1", r.Owner())
}

func TestRegisterRoutine_Rejections(t *testing.T) {
	c := newTestComponent("c")

	assert.True(t, pipeerrors.IsInvalid(c.RegisterRoutine(nil)))

	require.NoError(t, c.RegisterRoutine(routine.New("r", routine.Funcs{})))
	err := c.RegisterRoutine(routine.New("r", routine.Funcs{}))
	assert.ErrorIs(t, err, pipeerrors.ErrAlreadyRegistered)

	bg, err := worker.NewBackground("r", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.ErrorIs(t, c.RegisterRoutine(bg), pipeerrors.ErrAlreadyRegistered)
}

func TestRegisterRoutine_AfterRun(t *testing.T) {
	c := newTestComponent("c")
	status := runAsync(t, c)

	err := c.RegisterRoutine(routine.New("late", routine.Funcs{}))
	assert.ErrorIs(t, err, pipeerrors.ErrAlreadyStarted)

	assert.Equal(t, StatusOK, c.StopRun(context.Background()))
	assert.Equal(t, StatusOK, waitStatus(t, status))
}

func TestRegisterRoutine_RacingRunEitherStartsOrRejects(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		c := newTestComponent("race")
		logic := &testutil.CountingLogic{}
		r := routine.New("late", logic)

		status := testutil.RunAsync(ctx, c)
		err := c.RegisterRoutine(r)
		if err == nil {
			require.Eventually(t, func() bool { return logic.Setups() == 1 }, testutil.DefaultTimeout, time.Millisecond,
				"registered routine was never started")
		} else {
			require.ErrorIs(t, err, pipeerrors.ErrAlreadyStarted)
			assert.Equal(t, routine.Unbound, r.Lifecycle())
		}

		require.Eventually(t, func() bool { return c.Lifecycle() != Created }, testutil.DefaultTimeout, time.Millisecond)
		c.StopRun(ctx)
		assert.Equal(t, StatusOK, waitStatus(t, status))
	}
}

func TestAddRoutine(t *testing.T) {
	reg := metric.NewMetricsRegistry()
	c := newTestComponent("cam", WithMetrics(reg))

	r, err := c.AddRoutine("grab", &testutil.CountingLogic{})
	require.NoError(t, err)
	assert.Equal(t, routine.Bound, r.Lifecycle())
	assert.Equal(t, "cam", r.Owner())
	assert.True(t, c.RoutineExists("grab"))

	_, err = c.AddRoutine("grab", &testutil.CountingLogic{})
	assert.ErrorIs(t, err, pipeerrors.ErrAlreadyRegistered)
}

func TestRemoveRoutine(t *testing.T) {
	c := newTestComponent("c")
	r := routine.New("r", routine.Funcs{})
	bg, err := worker.NewBackground("bg", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	require.NoError(t, c.RegisterRoutine(r))
	require.NoError(t, c.RegisterRoutine(bg))

	assert.False(t, c.RemoveRoutine("bg"), "opaque workers are not removed")
	assert.True(t, c.RoutineExists("bg"))
	assert.False(t, c.RemoveRoutine("nope"))

	assert.True(t, c.RemoveRoutine("r"))
	assert.False(t, c.RoutineExists("r"))
	require.Len(t, c.Workers(), 1)
	assert.Equal(t, "bg", c.Workers()[0].Name())
}

func TestRoutinesUseQueue(t *testing.T) {
	c := newTestComponent("c")
	require.True(t, CreateQueue[int](c, "in", 1))
	require.True(t, CreateQueue[int](c, "spare", 1))

	r := routine.New("r", routine.Funcs{}, routine.WithQueues(MustQueue[int](c, "in")))
	require.NoError(t, c.RegisterRoutine(r))

	assert.True(t, c.RoutinesUseQueue("in"))
	assert.False(t, c.RoutinesUseQueue("spare"))
	assert.False(t, c.RoutinesUseQueue("unknown"))
}

func TestRun_CooperativeShutdownCleansUpOnce(t *testing.T) {
	c := newTestComponent("c")
	logics := []*testutil.CountingLogic{{}, {}, {}}
	for i, l := range logics {
		require.NoError(t, c.RegisterRoutine(routine.New(string(rune('a'+i)), l)))
	}

	status := runAsync(t, c)
	require.Eventually(t, func() bool {
		for _, l := range logics {
			if l.Iterations() == 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, time.Millisecond)
	assert.False(t, c.StopSignal().IsSet())
	assert.Equal(t, Running, c.Lifecycle())

	c.StopSignal().Set()
	assert.Equal(t, StatusOK, waitStatus(t, status))
	assert.Equal(t, Stopped, c.Lifecycle())

	for _, l := range logics {
		assert.Equal(t, int64(1), l.Setups())
		assert.Equal(t, int64(1), l.Cleanups())
	}
	for _, w := range c.Workers() {
		assert.False(t, w.Running())
	}
}

func TestStopRun_Idempotent(t *testing.T) {
	var teardowns atomic.Int32
	c := newTestComponent("c", WithTeardown(func(context.Context) error {
		teardowns.Add(1)
		return nil
	}))
	l := &testutil.CountingLogic{}
	require.NoError(t, c.RegisterRoutine(routine.New("r", l)))

	status := runAsync(t, c)
	require.Eventually(t, func() bool { return l.Iterations() > 0 }, 2*time.Second, time.Millisecond)

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- c.StopRun(context.Background()) }()
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, StatusOK, <-results)
	}
	assert.Equal(t, StatusOK, c.StopRun(context.Background()))
	assert.Equal(t, StatusOK, waitStatus(t, status))

	assert.Equal(t, int32(1), teardowns.Load())
	assert.Equal(t, int64(1), l.Cleanups())
	assert.Equal(t, StatusOK, c.Run(context.Background()))
}

func TestStopRun_BeforeRun(t *testing.T) {
	c := newTestComponent("c")
	l := &testutil.CountingLogic{}
	require.NoError(t, c.RegisterRoutine(routine.New("r", l)))

	assert.Equal(t, StatusOK, c.StopRun(context.Background()))
	assert.Equal(t, StatusOK, c.Run(context.Background()))
	assert.Equal(t, Stopped, c.Lifecycle())
	assert.Zero(t, l.Setups(), "workers never start after an early stop")
}

func TestRun_ContextCancellation(t *testing.T) {
	c := newTestComponent("c")
	l := &testutil.CountingLogic{}
	require.NoError(t, c.RegisterRoutine(routine.New("r", l)))

	ctx, cancel := context.WithCancel(context.Background())
	status := make(chan int, 1)
	go func() { status <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return l.Iterations() > 0 }, 2*time.Second, time.Millisecond)
	cancel()

	assert.Equal(t, StatusOK, waitStatus(t, status))
	assert.Equal(t, int64(1), l.Cleanups())
	assert.True(t, c.StopSignal().IsSet())
}

func TestStopRun_JoinFailureReturnsOne(t *testing.T) {
	c := newTestComponent("c")
	require.NoError(t, c.RegisterRoutine(routine.New("ok", &testutil.CountingLogic{})))
	require.NoError(t, c.RegisterRoutine(routine.New("bad", &testutil.CountingLogic{CleanupErr: errors.New("close failed")})))

	status := runAsync(t, c)
	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	assert.Equal(t, StatusFailed, waitStatus(t, status))
}

func TestStopRun_TeardownFailureReturnsOne(t *testing.T) {
	c := newTestComponent("c", WithTeardown(func(context.Context) error {
		return errors.New("server shutdown failed")
	}))
	status := runAsync(t, c)
	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	assert.Equal(t, StatusFailed, waitStatus(t, status))
}

func TestStopRun_TeardownPanicReturnsOne(t *testing.T) {
	c := newTestComponent("c", WithTeardown(func(context.Context) error {
		panic("boom")
	}))
	status := runAsync(t, c)
	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	assert.Equal(t, StatusFailed, waitStatus(t, status))
}

func TestStopRun_JoinTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := New("c", WithSignals(false), WithShutdownTimeout(50*time.Millisecond))
	stuck, err := worker.NewBackground("stuck", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, c.RegisterRoutine(stuck))

	status := runAsync(t, c)
	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	assert.Equal(t, StatusFailed, waitStatus(t, status))
}

func TestRun_StartFailure(t *testing.T) {
	c := newTestComponent("c")
	l := &testutil.CountingLogic{}
	require.NoError(t, c.RegisterRoutine(routine.New("r", l)))

	proc, err := worker.NewProcess("ghost", "/nonexistent/pipert-binary", nil)
	require.NoError(t, err)
	require.NoError(t, c.RegisterRoutine(proc))

	assert.Equal(t, StatusFailed, c.Run(context.Background()))
	assert.Equal(t, Stopped, c.Lifecycle())
	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	assert.LessOrEqual(t, l.Cleanups(), l.Setups())
}

func TestRun_OpaqueWorkersStopWithComponent(t *testing.T) {
	c := newTestComponent("c")
	var exited atomic.Bool
	bg, err := worker.NewBackground("bg", func(ctx context.Context) error {
		<-ctx.Done()
		exited.Store(true)
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, c.RegisterRoutine(bg))

	status := runAsync(t, c)
	require.Eventually(t, bg.Running, time.Second, time.Millisecond)

	assert.Equal(t, StatusOK, c.StopRun(context.Background()))
	assert.Equal(t, StatusOK, waitStatus(t, status))
	assert.True(t, exited.Load())
}

// Producer emits 1..5 into a single-slot queue before the consumer reads.
// The consumer must see 5 and the producer must count 4 drops.
func TestEndToEnd_FreshnessUnderDrop(t *testing.T) {
	c := newTestComponent("c")
	require.True(t, CreateQueue[int](c, "q", 1))
	q := MustQueue[int](c, "q")

	var produced atomic.Bool
	next := 1
	producer := routine.New("producer", routine.Funcs{
		MainFunc: func(ctx context.Context, st *routine.State) (routine.Outcome, error) {
			if next > 5 {
				produced.Store(true)
				return routine.Idle, nil
			}
			routine.PutLatest(st, q, next)
			next++
			return routine.Worked, nil
		},
	}, routine.WithQueues(q))

	got := make(chan int, 5)
	consumer := routine.New("consumer", routine.Funcs{
		MainFunc: func(ctx context.Context, st *routine.State) (routine.Outcome, error) {
			if !produced.Load() {
				return routine.Idle, nil
			}
			v, ok := q.TryGet()
			if !ok {
				return routine.Idle, nil
			}
			got <- v
			return routine.Worked, nil
		},
	}, routine.WithQueues(q))

	require.NoError(t, c.RegisterRoutine(producer))
	require.NoError(t, c.RegisterRoutine(consumer))
	assert.True(t, c.RoutinesUseQueue("q"))

	status := runAsync(t, c)

	var v int
	select {
	case v = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer received nothing")
	}
	assert.Equal(t, StatusOK, c.StopRun(context.Background()))
	assert.Equal(t, StatusOK, waitStatus(t, status))

	assert.Equal(t, 5, v)
	assert.Empty(t, got)
	assert.Equal(t, int64(4), producer.Counter(routine.DroppedKey))
	assert.Equal(t, int64(4), producer.Stats().Dropped)
}

func TestHealth(t *testing.T) {
	c := newTestComponent("c")
	require.NoError(t, c.RegisterRoutine(routine.New("r", &testutil.CountingLogic{})))

	assert.True(t, c.Health().IsHealthy(), "nothing is expected to run before Run")

	status := runAsync(t, c)
	require.Eventually(t, func() bool { return c.Health().IsHealthy() }, time.Second, time.Millisecond)

	c.StopRun(context.Background())
	waitStatus(t, status)
	assert.True(t, c.Health().IsHealthy())
}

func TestHealth_FailedWorker(t *testing.T) {
	c := newTestComponent("c")
	bg, err := worker.NewBackground("bg", func(ctx context.Context) error {
		return errors.New("device lost")
	})
	require.NoError(t, err)
	require.NoError(t, c.RegisterRoutine(bg))

	status := runAsync(t, c)
	require.Eventually(t, func() bool { return !bg.Running() }, time.Second, time.Millisecond)

	h := c.Health()
	assert.True(t, h.IsUnhealthy())
	require.Len(t, h.Checks, 1)
	assert.Equal(t, "bg", h.Checks[0].Name)

	assert.Equal(t, StatusFailed, c.StopRun(context.Background()))
	waitStatus(t, status)
}

func TestSnapshot(t *testing.T) {
	c := newTestComponent("c", WithEndpoint("tcp://127.0.0.1:0"))
	require.True(t, CreateQueue[int](c, "q", 3))
	require.NoError(t, MustQueue[int](c, "q").TryPut(1))
	require.NoError(t, c.RegisterRoutine(routine.New("r", routine.Funcs{})))
	bg, err := worker.NewBackground("bg", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, c.RegisterRoutine(bg))

	s := c.Snapshot()
	assert.Equal(t, "c", s.Name)
	assert.Equal(t, "tcp://127.0.0.1:0", s.Endpoint)
	assert.Equal(t, "created", s.Lifecycle)

	require.Len(t, s.Workers, 2)
	assert.Equal(t, "r", s.Workers[0].Name)
	assert.Equal(t, "routine", s.Workers[0].Kind)
	require.NotNil(t, s.Workers[0].Stats)
	assert.Equal(t, "bound", s.Workers[0].Stats.Lifecycle)
	assert.Equal(t, "bg", s.Workers[1].Name)
	assert.Nil(t, s.Workers[1].Stats)

	require.Len(t, s.Queues, 1)
	assert.Equal(t, QueueSnapshot{
		Name:  "q",
		Len:   1,
		Cap:   3,
		Stats: queue.StatsSummary{Puts: 1, CurrentSize: 1, MaxSize: 1},
	}, s.Queues[0])
}

func TestMetrics_ComponentStatus(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	c := newTestComponent("cam", WithMetrics(registry))
	require.NotNil(t, c.CoreMetrics())

	gauge := registry.CoreMetrics().ComponentStatus.WithLabelValues("cam")
	assert.Equal(t, float64(metric.StatusCreated), promtestutil.ToFloat64(gauge))

	require.True(t, CreateQueue[int](c, "q", 1))

	status := runAsync(t, c)
	require.Eventually(t, func() bool {
		return promtestutil.ToFloat64(gauge) == float64(metric.StatusRunning)
	}, time.Second, time.Millisecond)

	c.StopRun(context.Background())
	waitStatus(t, status)
	assert.Equal(t, float64(metric.StatusStopped), promtestutil.ToFloat64(gauge))
}
