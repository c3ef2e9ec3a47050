package routine

import (
	"errors"

	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
)

// PutLatest inserts item into q without blocking. When q is full the oldest
// queued item is evicted first. Every evicted item, and item itself if a
// racing producer refilled q before the retry, counts one drop under
// DroppedKey. It reports whether item was queued.
func PutLatest[T any](st *State, q *queue.Queue[T], item T) bool {
	err := q.TryPut(item)
	if err == nil {
		return true
	}
	if !errors.Is(err, queue.ErrFull) {
		st.Inc(DroppedKey)
		return false
	}

	if _, ok := q.TryGet(); ok {
		st.Inc(DroppedKey)
	}
	if err := q.TryPut(item); err != nil {
		st.Inc(DroppedKey)
		return false
	}
	return true
}

// TakeLatest removes everything queued and returns the newest item. Older
// items are counted as drops when st is non-nil.
func TakeLatest[T any](st *State, q *queue.Queue[T]) (T, bool) {
	items := q.Drain()
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	if st != nil && len(items) > 1 {
		st.Add(DroppedKey, int64(len(items)-1))
	}
	return items[len(items)-1], true
}
