package message

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/pkg/timestamp"
)

type wireMessage struct {
	ID        string `msgpack:"id"`
	Source    string `msgpack:"source,omitempty"`
	CreatedAt int64  `msgpack:"created_at"`
	Payload   []byte `msgpack:"payload"`
	History   []Hop  `msgpack:"history"`
}

// Encode serializes m to MessagePack
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Message", "Encode", "encode nil message")
	}
	data, err := msgpack.Marshal(&wireMessage{
		ID:        m.id,
		Source:    m.source,
		CreatedAt: m.createdAt,
		Payload:   m.payload,
		History:   m.history,
	})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Encode", "marshal msgpack")
	}
	return data, nil
}

// Decode parses data produced by Encode
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "Message", "Decode", "decode empty data")
	}

	var w wireMessage
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"Message", "Decode", "unmarshal msgpack")
	}
	if w.ID == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: missing id", errors.ErrInvalidData),
			"Message", "Decode", "validate message")
	}
	if err := timestamp.Validate(w.CreatedAt); err != nil {
		return nil, errors.WrapInvalid(err, "Message", "Decode", "validate created_at")
	}

	return &Message{
		id:        w.ID,
		source:    w.Source,
		createdAt: w.CreatedAt,
		payload:   w.Payload,
		history:   w.History,
	}, nil
}

// Summary is the payload-free view of a message used by status and display
// endpoints
type Summary struct {
	ID          string `json:"id"`
	Source      string `json:"source,omitempty"`
	CreatedAt   string `json:"created_at"`
	PayloadSize int    `json:"payload_size"`
	LatencyMs   int64  `json:"latency_ms"`
	History     []Hop  `json:"history"`
}

// Summarize returns the payload-free view of m
func (m *Message) Summarize() Summary {
	return Summary{
		ID:          m.id,
		Source:      m.source,
		CreatedAt:   timestamp.Format(m.createdAt),
		PayloadSize: len(m.payload),
		LatencyMs:   m.Latency().Milliseconds(),
		History:     m.History(),
	}
}
