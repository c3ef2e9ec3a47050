package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/testutil"
	"github.com/Elon-Abulafia/PipeRT/transport/memory"
)

func newQueue(t *testing.T, capacity int) *queue.Queue[*message.Message] {
	t.Helper()
	q, err := queue.New[*message.Message](capacity)
	require.NoError(t, err)
	return q
}

func newState(name string) *routine.State {
	return routine.NewState(name, "tracker", nil)
}

func encode(t *testing.T, msg *message.Message) []byte {
	return testutil.Encode(t, msg)
}

func TestReceiver_DeliversNewestOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10)
	out := newQueue(t, 1)
	st := newState("receive")

	r := NewReceiver(memory.New(store), "camera:2", out)
	require.NoError(t, r.Setup(ctx, st))

	outcome, err := r.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome, "empty key is not an error")

	store.Append("camera:2", encode(t, message.New([]byte("old"), message.WithID("a"))))
	store.Append("camera:2", encode(t, message.New([]byte("new"), message.WithID("b"))))

	outcome, err = r.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Worked, outcome)

	outcome, err = r.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome)
	assert.Equal(t, int64(1), st.Counter(DuplicatesKey))

	msg, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, "b", msg.ID())
	assert.Equal(t, []byte("new"), msg.Payload())

	hop, ok := msg.LastHop()
	require.True(t, ok)
	assert.Equal(t, "tracker", hop.Component)
	assert.True(t, hop.Open())
	assert.Equal(t, int64(1), st.Counter(ReceivedKey))
}

func TestReceiver_AllowDuplicates(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10)
	out := newQueue(t, 1)
	st := newState("receive")

	r := NewReceiver(memory.New(store), "k", out, AllowDuplicates())
	require.NoError(t, r.Setup(ctx, st))
	store.Append("k", encode(t, message.New([]byte("x"))))

	for i := 0; i < 3; i++ {
		outcome, err := r.MainLogic(ctx, st)
		require.NoError(t, err)
		assert.Equal(t, routine.Worked, outcome)
	}
	assert.Equal(t, 1, out.Len())
	assert.Equal(t, int64(2), st.Counter(routine.DroppedKey))
}

func TestReceiver_InvalidData(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10)
	st := newState("receive")

	r := NewReceiver(memory.New(store), "k", newQueue(t, 1))
	require.NoError(t, r.Setup(ctx, st))
	store.Append("k", []byte("not msgpack"))

	outcome, err := r.MainLogic(ctx, st)
	assert.Equal(t, routine.Idle, outcome)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.Equal(t, int64(1), st.Counter(InvalidKey))
}

func TestReceiver_CleanupClosesHandler(t *testing.T) {
	ctx := context.Background()
	h := memory.New(memory.NewStore(10))
	st := newState("receive")

	r := NewReceiver(h, "k", newQueue(t, 1))
	require.NoError(t, r.Setup(ctx, st))
	require.NoError(t, r.Cleanup(ctx, st))

	_, err := r.MainLogic(ctx, st)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
}

func TestReceiver_SetupGivesUpOnPermanentFailure(t *testing.T) {
	st := newState("receive")
	h := testutil.NewFlakyHandler(memory.New(memory.NewStore(1)), 10, errors.WrapInvalid(errors.ErrInvalidConfig, "test", "Connect", "dial"))

	r := NewReceiver(h, "k", newQueue(t, 1), WithReceiveConnectRetry(retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond}))
	err := r.Setup(context.Background(), st)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Equal(t, int32(1), h.ConnectCalls())
}

func TestTransformer(t *testing.T) {
	ctx := context.Background()
	in := newQueue(t, 2)
	out := newQueue(t, 1)
	st := newState("transform")

	upper := func(_ context.Context, msg *message.Message) error {
		if string(msg.Payload()) == "bad" {
			return fmt.Errorf("cannot transform")
		}
		msg.UpdatePayload(append(msg.Payload(), '!'))
		return nil
	}
	xf := NewTransformer(in, out, upper)

	outcome, err := xf.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome)

	require.NoError(t, in.TryPut(message.New([]byte("bad"))))
	outcome, err = xf.MainLogic(ctx, st)
	assert.Error(t, err)
	assert.Equal(t, routine.Worked, outcome)
	assert.Equal(t, int64(1), st.Counter(FailedKey))
	assert.Equal(t, 0, out.Len())

	require.NoError(t, in.TryPut(message.New([]byte("a"))))
	require.NoError(t, in.TryPut(message.New([]byte("b"))))
	for i := 0; i < 2; i++ {
		_, err = xf.MainLogic(ctx, st)
		require.NoError(t, err)
	}

	msg, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, []byte("b!"), msg.Payload())
	assert.Equal(t, int64(1), st.Counter(routine.DroppedKey))
}

func TestTransformer_NilFuncIsIdentity(t *testing.T) {
	in := newQueue(t, 1)
	out := newQueue(t, 1)
	xf := NewTransformer(in, out, nil)

	require.NoError(t, in.TryPut(message.New([]byte("same"))))
	_, err := xf.MainLogic(context.Background(), newState("transform"))
	require.NoError(t, err)

	msg, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, []byte("same"), msg.Payload())
}

func TestTransformer_PanicCostsOneTick(t *testing.T) {
	ctx := context.Background()
	in := newQueue(t, 2)
	out := newQueue(t, 1)
	st := newState("transform")

	calls := 0
	xf := NewTransformer(in, out, func(_ context.Context, msg *message.Message) error {
		calls++
		if calls == 1 {
			panic("detector crashed")
		}
		return nil
	})

	require.NoError(t, in.TryPut(message.New([]byte("first"))))
	outcome, err := xf.MainLogic(ctx, st)
	assert.ErrorIs(t, err, errors.ErrCallbackPanic)
	assert.Equal(t, routine.Worked, outcome)
	assert.Equal(t, int64(1), st.Counter(FailedKey))
	assert.Equal(t, 0, out.Len())

	require.NoError(t, in.TryPut(message.New([]byte("second"))))
	_, err = xf.MainLogic(ctx, st)
	require.NoError(t, err)

	msg, ok := out.TryGet()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), msg.Payload())
}

func TestTransformer_PanicKeepsRoutineRunning(t *testing.T) {
	in := newQueue(t, 2)
	out := newQueue(t, 2)

	var calls atomic.Int32
	xf := NewTransformer(in, out, func(context.Context, *message.Message) error {
		if calls.Add(1) == 1 {
			panic("detector crashed")
		}
		return nil
	})

	r := routine.New("transform", xf, routine.WithQueues(in, out))
	stop := routine.NewStopSignal(false)
	require.NoError(t, r.Bind(stop, "tracker"))
	require.NoError(t, r.Start(context.Background()))

	require.NoError(t, in.TryPut(message.New([]byte("first"))))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, testutil.DefaultTimeout, time.Millisecond)

	require.NoError(t, in.TryPut(message.New([]byte("second"))))
	require.Eventually(t, func() bool { return out.Len() == 1 }, testutil.DefaultTimeout, time.Millisecond)
	assert.Equal(t, routine.Running, r.Lifecycle())
	assert.Equal(t, int64(1), r.Counter(FailedKey))

	stop.Set()
	ctx, cancel := context.WithTimeout(context.Background(), testutil.DefaultTimeout)
	defer cancel()
	require.NoError(t, r.Join(ctx))
	assert.Equal(t, routine.Terminated, r.Lifecycle())
}

func TestSender_PublishesNewest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(10)
	in := newQueue(t, 3)
	st := newState("send")
	m := metric.NewMetrics()

	s := NewSender(memory.New(store), "camera:3", in, WithHopMetrics(m))
	require.NoError(t, s.Setup(ctx, st))

	outcome, err := s.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome)

	for _, p := range []string{"1", "2", "3"} {
		msg := message.New([]byte(p), message.WithID(p))
		msg.RecordEntry("tracker", nil)
		require.NoError(t, in.TryPut(msg))
	}

	outcome, err = s.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Worked, outcome)
	assert.Equal(t, int64(2), st.Counter(routine.DroppedKey))
	assert.Equal(t, int64(1), st.Counter(SentKey))

	got, err := message.Decode(store.Latest("camera:3"))
	require.NoError(t, err)
	assert.Equal(t, "3", got.ID())
	hop, ok := got.LastHop()
	require.True(t, ok)
	assert.Equal(t, "tracker", hop.Component)
	assert.False(t, hop.Open())

	assert.Equal(t, 1, promtestutil.CollectAndCount(m.HopLatency))
}

func TestSender_SendFailureIsCounted(t *testing.T) {
	ctx := context.Background()
	h := memory.New(memory.NewStore(1))
	in := newQueue(t, 1)
	st := newState("send")

	s := NewSender(h, "k", in)
	require.NoError(t, in.TryPut(message.New([]byte("x"))))

	outcome, err := s.MainLogic(ctx, st)
	assert.Equal(t, routine.Worked, outcome)
	assert.ErrorIs(t, err, errors.ErrNoConnection)
	assert.Equal(t, int64(1), st.Counter(FailedKey))
}

func TestSource_ProducesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	out := newQueue(t, 5)
	st := newState("source")

	n := 0
	produce := func(context.Context) ([]byte, error) {
		if n == 2 {
			return nil, io.EOF
		}
		n++
		return []byte{byte(n)}, nil
	}
	src := NewSource("camera", 0, out, produce)
	assert.Equal(t, 0.0, src.FPS())

	for i := 0; i < 4; i++ {
		_, err := src.MainLogic(ctx, st)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, out.Len())
	assert.Equal(t, int64(2), st.Counter(ProducedKey))
	exhausted, _ := routine.Value[bool](st, ExhaustedKey)
	assert.True(t, exhausted)

	msg, _ := out.TryGet()
	assert.Equal(t, "camera", msg.Source())
	assert.Len(t, msg.History(), 1)
}

func TestSource_Paced(t *testing.T) {
	ctx := context.Background()
	out := newQueue(t, 5)
	st := newState("source")

	src := NewSource("camera", 1, out, func(context.Context) ([]byte, error) {
		return []byte("frame"), nil
	})
	assert.Equal(t, 1.0, src.FPS())

	outcome, err := src.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Worked, outcome)

	outcome, err = src.MainLogic(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, routine.Idle, outcome, "second frame within a second is paced out")
	assert.Equal(t, 1, out.Len())
}

func TestSource_ProduceError(t *testing.T) {
	src := NewSource("camera", 0, newQueue(t, 1), func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("capture failed")
	})

	outcome, err := src.MainLogic(context.Background(), newState("source"))
	assert.Equal(t, routine.Idle, outcome)
	assert.Error(t, err)
}
