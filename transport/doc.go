// Package transport defines how components exchange envelopes across process
// boundaries.
//
// A Handler is a keyed message store with Redis-stream-like semantics: Send
// appends to a bounded stream under a key (older entries fall off once the
// stream holds its maximum length) and Receive returns the newest entry for
// a key, or nil when the key holds nothing. Absence of data is never an
// error.
//
// Adapters live in sub-packages:
//
//	transport/memory      in-process store shared by name
//	transport/natsstream  NATS JetStream, one subject per key
//	transport/mqtt        MQTT retained messages, one topic per key
//
// transport/transports opens the right adapter from a URL such as
// "memory://local", "nats://localhost:4222" or "mqtt://broker:1883".
package transport
