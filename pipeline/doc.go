// Package pipeline provides the routine logics most components are built
// from:
//
//   - Receiver pulls the newest envelope for a stream key off a transport
//     and hands it to a queue.
//   - Transformer applies a TransformFunc between two queues.
//   - Sender publishes the newest queued envelope under a stream key.
//   - Source produces payloads at a fixed rate.
//
// Every logic is non-blocking: an empty queue or missing data yields an Idle
// outcome, and a full downstream queue goes through routine.PutLatest so the
// freshest item always wins.
//
// Typical wiring of a relay component:
//
//	in, _ := component.GetQueue[*message.Message](c, "in")
//	out, _ := component.GetQueue[*message.Message](c, "out")
//	recv := pipeline.NewReceiver(src, "camera:2", in)
//	xf := pipeline.NewTransformer(in, out, fn)
//	send := pipeline.NewSender(dst, "camera:3", out)
package pipeline
