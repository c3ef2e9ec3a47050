// Package queue provides the bounded FIFO that connects routine stages.
//
// Every operation is non-blocking. TryPut fails with ErrFull when the queue is
// at capacity and TryGet reports false when it is empty, so a routine's main
// logic can always return promptly and observe its stop signal. The queue
// itself never evicts: the evict-oldest drop policy lives with the producer
// (see routine.PutLatest).
//
// Statistics are always collected. WithMetrics additionally exports them to a
// metric.MetricsRegistry:
//
//	q, err := queue.New[*message.Message](1,
//	    queue.WithName[*message.Message]("frames"),
//	    queue.WithMetrics[*message.Message](registry, "tracker"))
package queue
