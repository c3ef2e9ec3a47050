package queue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Elon-Abulafia/PipeRT/metric"
)

type queueMetrics struct {
	puts    prometheus.Counter
	gets    prometheus.Counter
	rejects prometheus.Counter
	depth   prometheus.Gauge
}

func newQueueMetrics(registry metric.MetricsRegistrar, prefix, name string) (*queueMetrics, error) {
	labels := prometheus.Labels{"owner": prefix, "queue": name}
	m := &queueMetrics{
		puts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pipert",
			Subsystem:   "queue",
			Name:        "puts_total",
			ConstLabels: labels,
			Help:        "Items accepted by the queue",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pipert",
			Subsystem:   "queue",
			Name:        "gets_total",
			ConstLabels: labels,
			Help:        "Items removed from the queue",
		}),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "pipert",
			Subsystem:   "queue",
			Name:        "rejects_total",
			ConstLabels: labels,
			Help:        "Puts refused because the queue was full",
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "pipert",
			Subsystem:   "queue",
			Name:        "depth",
			ConstLabels: labels,
			Help:        "Current number of queued items",
		}),
	}

	owner := prefix + "." + name
	if err := registry.RegisterCounter(owner, "queue_puts", m.puts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "queue_gets", m.gets); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(owner, "queue_rejects", m.rejects); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(owner, "queue_depth", m.depth); err != nil {
		return nil, err
	}
	return m, nil
}

func unregisterQueueMetrics(registry metric.MetricsRegistrar, prefix, name string) {
	owner := prefix + "." + name
	for _, k := range []string{"queue_puts", "queue_gets", "queue_rejects", "queue_depth"} {
		registry.Unregister(owner, k)
	}
}
