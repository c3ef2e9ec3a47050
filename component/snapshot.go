package component

import (
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/routine"
)

// WorkerSnapshot describes one registered worker
type WorkerSnapshot struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Running bool           `json:"running"`
	Error   string         `json:"error,omitempty"`
	Stats   *routine.Stats `json:"stats,omitempty"`
}

// QueueSnapshot describes one queue
type QueueSnapshot struct {
	Name  string             `json:"name"`
	Len   int                `json:"len"`
	Cap   int                `json:"cap"`
	Stats queue.StatsSummary `json:"stats"`
}

// Snapshot is the component state reported by the control endpoint
type Snapshot struct {
	Name      string           `json:"name"`
	Endpoint  string           `json:"endpoint,omitempty"`
	Lifecycle string           `json:"lifecycle"`
	Workers   []WorkerSnapshot `json:"workers"`
	Queues    []QueueSnapshot  `json:"queues"`
}

// Snapshot returns the current lifecycle, worker and queue state
func (c *Component) Snapshot() Snapshot {
	s := Snapshot{
		Name:      c.name,
		Endpoint:  c.endpoint,
		Lifecycle: c.Lifecycle().String(),
	}

	for _, w := range c.Workers() {
		ws := WorkerSnapshot{
			Name:    w.Name(),
			Kind:    w.Kind().String(),
			Running: w.Running(),
		}
		if e, ok := w.(interface{ Err() error }); ok {
			if err := e.Err(); err != nil {
				ws.Error = err.Error()
			}
		}
		if st, ok := w.(interface{ Stats() routine.Stats }); ok {
			stats := st.Stats()
			ws.Stats = &stats
		}
		s.Workers = append(s.Workers, ws)
	}

	for _, name := range c.QueueNames() {
		h, ok := c.Queue(name)
		if !ok {
			continue
		}
		s.Queues = append(s.Queues, QueueSnapshot{
			Name:  name,
			Len:   h.Len(),
			Cap:   h.Cap(),
			Stats: h.Stats(),
		})
	}
	return s
}
