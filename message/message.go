package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/Elon-Abulafia/PipeRT/pkg/timestamp"
)

// Message is an opaque payload plus its provenance trail
type Message struct {
	id        string
	source    string
	createdAt int64 // Unix milliseconds
	payload   []byte
	history   []Hop
}

// Option configures a Message at construction
type Option func(*Message)

// WithID sets an explicit identifier instead of a random UUID
func WithID(id string) Option {
	return func(m *Message) {
		if id != "" {
			m.id = id
		}
	}
}

// WithTime sets the creation time instead of time.Now().
// Useful for replayed data and tests.
func WithTime(t time.Time) Option {
	return func(m *Message) {
		m.createdAt = timestamp.ToUnixMs(t)
	}
}

// WithSource records the component that produced the message
func WithSource(source string) Option {
	return func(m *Message) {
		m.source = source
	}
}

// New creates a message around payload with an empty history
func New(payload []byte, opts ...Option) *Message {
	m := &Message{
		id:        uuid.New().String(),
		createdAt: timestamp.Now(),
		payload:   payload,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the message identifier
func (m *Message) ID() string { return m.id }

// Source returns the producing component, empty when unknown
func (m *Message) Source() string { return m.source }

// CreatedAt returns when the message was created
func (m *Message) CreatedAt() time.Time { return timestamp.FromUnixMs(m.createdAt) }

// Payload returns the payload bytes without copying
func (m *Message) Payload() []byte { return m.payload }

// UpdatePayload replaces the payload, keeping id and history
func (m *Message) UpdatePayload(payload []byte) { m.payload = payload }

// IsEmpty reports whether the payload carries no data
func (m *Message) IsEmpty() bool { return len(m.payload) == 0 }

// Size returns the payload length in bytes
func (m *Message) Size() int { return len(m.payload) }
