package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pipert"

// Component status values reported by RecordComponentStatus
const (
	StatusCreated  = 0
	StatusRunning  = 1
	StatusStopping = 2
	StatusStopped  = 3
	StatusFailed   = 4
)

// Metrics contains the runtime-level metrics shared by every component
type Metrics struct {
	ComponentStatus *prometheus.GaugeVec

	RoutineIterations *prometheus.CounterVec
	RoutineErrors     *prometheus.CounterVec
	RoutineDropped    *prometheus.CounterVec
	RoutinesRunning   *prometheus.GaugeVec

	TransportMessages  *prometheus.CounterVec
	TransportBytes     *prometheus.CounterVec
	TransportConnected *prometheus.GaugeVec

	HopLatency *prometheus.HistogramVec
}

// NewMetrics creates the runtime metrics, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "component",
				Name:      "status",
				Help:      "Component lifecycle (0=created, 1=running, 2=stopping, 3=stopped, 4=failed)",
			},
			[]string{"component"},
		),

		RoutineIterations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "routine",
				Name:      "iterations_total",
				Help:      "Main logic invocations by outcome",
			},
			[]string{"component", "routine", "outcome"},
		),

		RoutineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "routine",
				Name:      "errors_total",
				Help:      "Main logic invocations that returned an error",
			},
			[]string{"component", "routine"},
		),

		RoutineDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "routine",
				Name:      "dropped_total",
				Help:      "Items discarded by the evict-oldest drop policy",
			},
			[]string{"component", "routine"},
		),

		RoutinesRunning: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "routine",
				Name:      "running",
				Help:      "Routines currently inside their main loop",
			},
			[]string{"component"},
		),

		TransportMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_total",
				Help:      "Messages moved through a transport handler",
			},
			[]string{"transport", "direction"},
		),

		TransportBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "bytes_total",
				Help:      "Payload bytes moved through a transport handler",
			},
			[]string{"transport", "direction"},
		),

		TransportConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "Transport connection status (0=disconnected, 1=connected)",
			},
			[]string{"transport"},
		),

		HopLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "message",
				Name:      "hop_seconds",
				Help:      "Time an envelope spent inside a component",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"component"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ComponentStatus,
		m.RoutineIterations,
		m.RoutineErrors,
		m.RoutineDropped,
		m.RoutinesRunning,
		m.TransportMessages,
		m.TransportBytes,
		m.TransportConnected,
		m.HopLatency,
	}
}

// RecordComponentStatus sets the lifecycle gauge for a component
func (m *Metrics) RecordComponentStatus(component string, status int) {
	m.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordIteration counts one main logic call
func (m *Metrics) RecordIteration(component, routine string, worked bool) {
	outcome := "idle"
	if worked {
		outcome = "worked"
	}
	m.RoutineIterations.WithLabelValues(component, routine, outcome).Inc()
}

// RecordRoutineError counts a main logic error
func (m *Metrics) RecordRoutineError(component, routine string) {
	m.RoutineErrors.WithLabelValues(component, routine).Inc()
}

// RecordDropped adds n discarded items for a routine
func (m *Metrics) RecordDropped(component, routine string, n int) {
	m.RoutineDropped.WithLabelValues(component, routine).Add(float64(n))
}

// RoutineEntered increments the running gauge; RoutineExited reverses it
func (m *Metrics) RoutineEntered(component string) {
	m.RoutinesRunning.WithLabelValues(component).Inc()
}

func (m *Metrics) RoutineExited(component string) {
	m.RoutinesRunning.WithLabelValues(component).Dec()
}

// RecordTransfer counts one message of size bytes; direction is "in" or "out"
func (m *Metrics) RecordTransfer(transport, direction string, size int) {
	m.TransportMessages.WithLabelValues(transport, direction).Inc()
	m.TransportBytes.WithLabelValues(transport, direction).Add(float64(size))
}

// RecordTransportStatus updates the connection gauge
func (m *Metrics) RecordTransportStatus(transport string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.TransportConnected.WithLabelValues(transport).Set(value)
}

// RecordHop observes the time an envelope spent in a component
func (m *Metrics) RecordHop(component string, d time.Duration) {
	m.HopLatency.WithLabelValues(component).Observe(d.Seconds())
}
