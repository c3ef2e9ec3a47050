package routine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
)

func TestPutLatest_KeepsNewest(t *testing.T) {
	q, err := queue.New[int](1)
	require.NoError(t, err)
	st := NewState("producer", "c", nil)

	for i := 1; i <= 5; i++ {
		assert.True(t, PutLatest(st, q, i))
	}

	got, ok := q.TryGet()
	require.True(t, ok)
	assert.Equal(t, 5, got)
	assert.Equal(t, int64(4), st.Counter(DroppedKey))
}

func TestPutLatest_LargerCapacityEvictsOldestOnly(t *testing.T) {
	q, err := queue.New[int](3)
	require.NoError(t, err)
	st := NewState("producer", "c", nil)

	for i := 1; i <= 5; i++ {
		PutLatest(st, q, i)
	}

	assert.Equal(t, []int{3, 4, 5}, q.Drain())
	assert.Equal(t, int64(2), st.Counter(DroppedKey))
}

func TestPutLatest_ClosedQueueCountsDrop(t *testing.T) {
	q, err := queue.New[int](1)
	require.NoError(t, err)
	require.NoError(t, q.Close())
	st := NewState("producer", "c", nil)

	assert.False(t, PutLatest(st, q, 1))
	assert.Equal(t, int64(1), st.Counter(DroppedKey))
}

// Every put either lands in the queue, is evicted later, or is counted as a
// drop, so accepted + dropped is exactly the number of puts.
func TestPutLatest_RacingProducersAccountEveryItem(t *testing.T) {
	q, err := queue.New[int](1)
	require.NoError(t, err)

	const producers, perProducer = 4, 2000
	states := make([]*State, producers)
	var queued atomic.Int64
	var wg sync.WaitGroup

	for p := 0; p < producers; p++ {
		states[p] = NewState("producer", "c", nil)
		wg.Add(1)
		go func(st *State) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if PutLatest(st, q, i) {
					queued.Add(1)
				}
			}
		}(states[p])
	}
	wg.Wait()

	var dropped int64
	for _, st := range states {
		dropped += st.Counter(DroppedKey)
	}
	remaining := int64(q.Len())

	evicted := q.Stats().Gets
	rejected := dropped - evicted

	assert.Equal(t, int64(producers*perProducer), queued.Load()+rejected)
	assert.Equal(t, queued.Load()-evicted, remaining)
	assert.LessOrEqual(t, remaining, int64(1))
}

func TestTakeLatest(t *testing.T) {
	q, err := queue.New[string](4)
	require.NoError(t, err)
	st := NewState("consumer", "c", nil)

	_, ok := TakeLatest(st, q)
	assert.False(t, ok)

	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, q.TryPut(s))
	}
	got, ok := TakeLatest(st, q)
	require.True(t, ok)
	assert.Equal(t, "c", got)
	assert.Equal(t, int64(2), st.Counter(DroppedKey))
	assert.Zero(t, q.Len())
}
