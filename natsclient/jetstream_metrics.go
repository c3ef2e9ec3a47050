package natsclient

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Elon-Abulafia/PipeRT/metric"
)

const metricsOwner = "natsclient"

// streamMetrics reports the streams one client created. The vectors are shared
// by every client registered against the same metrics registry, so a relay's
// receive and send connections publish into the same series.
type streamMetrics struct {
	messages *prometheus.GaugeVec
	bytes    *prometheus.GaugeVec
	keys     *prometheus.GaugeVec
	failures *prometheus.CounterVec

	mu      sync.Mutex
	streams map[string]jetstream.Stream
}

func newStreamMetrics(registry *metric.MetricsRegistry) (*streamMetrics, error) {
	gauge := func(name, help string) (*prometheus.GaugeVec, error) {
		c, err := registry.Shared(metricsOwner, name, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pipert",
			Subsystem: "jetstream",
			Name:      name,
			Help:      help,
		}, []string{"stream"}))
		if err != nil {
			return nil, err
		}
		vec, ok := c.(*prometheus.GaugeVec)
		if !ok {
			return nil, fmt.Errorf("metric %s is registered with another type", name)
		}
		return vec, nil
	}

	m := &streamMetrics{streams: make(map[string]jetstream.Stream)}
	var err error
	if m.messages, err = gauge("stream_messages", "Entries held by the stream across all keys"); err != nil {
		return nil, err
	}
	if m.bytes, err = gauge("stream_bytes", "Bytes stored by the stream"); err != nil {
		return nil, err
	}
	if m.keys, err = gauge("stream_subjects", "Stream keys currently holding at least one entry"); err != nil {
		return nil, err
	}

	c, err := registry.Shared(metricsOwner, "operation_errors_total", prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pipert",
		Subsystem: "jetstream",
		Name:      "operation_errors_total",
		Help:      "Failed JetStream calls by operation",
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	failures, ok := c.(*prometheus.CounterVec)
	if !ok {
		return nil, fmt.Errorf("metric operation_errors_total is registered with another type")
	}
	m.failures = failures

	return m, nil
}

// track remembers stream for polling and publishes the state the create call
// returned, so gauges exist as soon as the stream does.
func (m *streamMetrics) track(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.streams[name] = stream
	m.mu.Unlock()

	if info := stream.CachedInfo(); info != nil {
		m.publish(name, info)
	}
}

func (m *streamMetrics) failed(operation string) {
	if m != nil {
		m.failures.WithLabelValues(operation).Inc()
	}
}

func (m *streamMetrics) publish(name string, info *jetstream.StreamInfo) {
	m.messages.WithLabelValues(name).Set(float64(info.State.Msgs))
	m.bytes.WithLabelValues(name).Set(float64(info.State.Bytes))
	m.keys.WithLabelValues(name).Set(float64(info.State.NumSubjects))
}

func (m *streamMetrics) refresh(ctx context.Context) {
	m.mu.Lock()
	streams := maps.Clone(m.streams)
	m.mu.Unlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.failed("stream_info")
			continue
		}
		m.publish(name, info)
	}
}

// poll refreshes the tracked streams every interval until ctx is done
func (m *streamMetrics) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.refresh(ctx)
		}
	}
}
