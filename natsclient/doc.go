// Package natsclient manages the NATS connection used by the NATS stream
// transport.
//
// The client wraps nats.go with a circuit breaker, exponential backoff and
// JetStream helpers for the one pattern PipeRT needs: a stream that keeps at
// most N messages per subject, where readers only ever want the newest one.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens and
// Connect, PublishToStream and LastMessage fail fast with ErrCircuitOpen. The
// circuit is tested again after the current backoff, which doubles every
// round up to the configured maximum.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("pipert-relay"),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	_, err = client.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
//	    Name:              "PIPERT",
//	    Subjects:          []string{"pipert.>"},
//	    MaxMsgsPerSubject: 100,
//	})
//	err = client.PublishToStream(ctx, "pipert.camera.0", frame)
//	latest, err := client.LastMessage(ctx, "PIPERT", "pipert.camera.0")
//
// # Testing
//
// NewTestClient starts a NATS server in a container via testcontainers-go.
// Tests using it carry the integration build tag:
//
//	go test -tags integration ./natsclient/...
package natsclient
