// Package pipert is a runtime for real-time stream processing pipelines built
// from components that exchange envelopes through a stream store.
//
// # Architecture
//
//	┌───────────────────────────────────────────┐
//	│ Component                                 │  named queues, one stop signal,
//	│   routine ─▶ queue ─▶ routine ─▶ queue ─▶ │  run / stop orchestration
//	└───────────────────────────────────────────┘
//	        ▲ Receive                Send ▼
//	┌───────────────────────────────────────────┐
//	│ Stream store (memory, NATS, MQTT)         │  newest entry per key,
//	│                                           │  bounded history
//	└───────────────────────────────────────────┘
//
// A routine runs Setup once, then MainLogic repeatedly until the component's
// stop signal is set, then Cleanup. Routines hand envelopes to each other
// through bounded queues. A producer never blocks: when the downstream queue
// is full the oldest item is evicted and counted as dropped, so consumers
// always see the freshest data.
//
// Envelopes (package message) carry an opaque payload and a provenance trail
// of (component, entered, exited) hops, encoded with msgpack on the wire.
//
// # Packages
//
//   - routine: Logic interface, stop signal, state bag, PutLatest drop policy
//   - component: queues, workers, Run / StopRun, status snapshot
//   - pipeline: reusable receive, transform, send and rate-limited source logics
//   - transport: Handler interface with memory, NATS JetStream and MQTT adapters
//   - contrib: relay, display and file source components
//   - control: HTTP status, health and stop endpoint for a component
//   - config, componentregistry, cmd/pipert: configuration driven process
//
// # Example
//
//	c := component.New("tracker", component.WithEndpoint("tcp://0.0.0.0:4242"))
//	component.CreateQueue[*message.Message](c, "in", 1)
//	in := component.MustQueue[*message.Message](c, "in")
//	_, _ = c.AddRoutine("receive", pipeline.NewReceiver(h, "camera:2", in), routine.WithQueues(in))
//	os.Exit(c.Run(ctx))
package pipert
