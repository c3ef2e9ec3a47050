package queue

import (
	"github.com/Elon-Abulafia/PipeRT/metric"
)

// Option configures a Queue
type Option[T any] func(*options[T])

type options[T any] struct {
	name          string
	metricsReg    metric.MetricsRegistrar
	metricsPrefix string
}

// WithName sets the name reported by Name and used as the metrics label
func WithName[T any](name string) Option[T] {
	return func(o *options[T]) {
		o.name = name
	}
}

// WithMetrics exports queue statistics under the given owner prefix.
// A nil registry or empty prefix leaves metrics disabled.
func WithMetrics[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(o *options[T]) {
		if registry != nil && prefix != "" {
			o.metricsReg = registry
			o.metricsPrefix = prefix
		}
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
