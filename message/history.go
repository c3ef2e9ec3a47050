package message

import (
	"log/slog"
	"time"

	"github.com/Elon-Abulafia/PipeRT/pkg/timestamp"
)

// Hop is one pass of a message through a component
type Hop struct {
	Component string `json:"component" msgpack:"component"`
	EnteredAt int64  `json:"entered_at" msgpack:"entered_at"`
	ExitedAt  int64  `json:"exited_at,omitempty" msgpack:"exited_at,omitempty"`
}

// Open reports whether the component has not recorded an exit yet
func (h Hop) Open() bool { return h.ExitedAt == 0 }

// Duration is the time spent inside the component, 0 while open
func (h Hop) Duration() time.Duration {
	if h.Open() {
		return 0
	}
	return timestamp.Between(h.EnteredAt, h.ExitedAt)
}

// RecordEntry appends a hop for component stamped with the current time
func (m *Message) RecordEntry(component string, logger *slog.Logger) {
	now := timestamp.Now()
	m.history = append(m.history, Hop{Component: component, EnteredAt: now})
	if logger != nil {
		logger.Debug("Message entered component",
			"message_id", m.id, "hop", len(m.history), "age", timestamp.Between(m.createdAt, now))
	}
}

// RecordExit closes the most recent open hop of component. Without a
// matching entry the exit is logged and an instantaneous hop is recorded so
// the trail still shows the component.
func (m *Message) RecordExit(component string, logger *slog.Logger) {
	now := timestamp.Now()
	for i := len(m.history) - 1; i >= 0; i-- {
		h := &m.history[i]
		if h.Component == component && h.Open() {
			h.ExitedAt = now
			if logger != nil {
				logger.Debug("Message exited component",
					"message_id", m.id, "duration", h.Duration())
			}
			return
		}
	}

	m.history = append(m.history, Hop{Component: component, EnteredAt: now, ExitedAt: now})
	if logger != nil {
		logger.Warn("Message exit without entry", "message_id", m.id, "exit_component", component)
	}
}

// History returns a copy of the provenance trail, oldest hop first
func (m *Message) History() []Hop {
	out := make([]Hop, len(m.history))
	copy(out, m.history)
	return out
}

// AdoptHistory replaces the trail with a copy of other's. Used when a derived
// message (e.g. an annotated frame) should carry the trail of its input.
func (m *Message) AdoptHistory(other *Message) {
	if other == nil {
		return
	}
	m.history = other.History()
}

// LastHop returns the most recent hop
func (m *Message) LastHop() (Hop, bool) {
	if len(m.history) == 0 {
		return Hop{}, false
	}
	return m.history[len(m.history)-1], true
}

// Latency is the time from creation to the latest recorded exit, 0 when no
// component has recorded an exit
func (m *Message) Latency() time.Duration {
	var last int64
	for _, h := range m.history {
		if h.ExitedAt > last {
			last = h.ExitedAt
		}
	}
	if last == 0 {
		return 0
	}
	return timestamp.Between(m.createdAt, last)
}
