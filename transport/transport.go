package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
)

// DefaultMaxLen is the number of entries kept per key
const DefaultMaxLen = 100

// Handler is a keyed latest-value message store
type Handler interface {
	// Connect establishes the connection. It may be called again after a
	// transient failure.
	Connect(ctx context.Context) error
	// Receive returns the newest entry stored under key. A nil slice with a
	// nil error means nothing is available.
	Receive(ctx context.Context, key string) ([]byte, error)
	// Send appends data under key
	Send(ctx context.Context, key string, data []byte) error
	// Close releases the connection
	Close(ctx context.Context) error
}

// ConnectWithRetry calls h.Connect until it succeeds, retrying only
// transient failures with cfg's backoff
func ConnectWithRetry(ctx context.Context, h Handler, cfg retry.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OnRetry == nil {
		cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Warn("Transport connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		}
	}

	return retry.Do(ctx, cfg, func(int) error {
		err := h.Connect(ctx)
		if err != nil && !errors.IsTransient(err) {
			return retry.Permanent(err)
		}
		return err
	})
}

// Instrumented reports traffic and connection state of a Handler to the core
// metrics under a transport label
type Instrumented struct {
	Handler
	name    string
	metrics *metric.Metrics
}

// Instrument wraps h; a nil m returns h unchanged
func Instrument(h Handler, name string, m *metric.Metrics) Handler {
	if m == nil {
		return h
	}
	return &Instrumented{Handler: h, name: name, metrics: m}
}

// Connect records the connection state after connecting
func (i *Instrumented) Connect(ctx context.Context) error {
	err := i.Handler.Connect(ctx)
	i.metrics.RecordTransportStatus(i.name, err == nil)
	return err
}

// Receive counts non-empty receives
func (i *Instrumented) Receive(ctx context.Context, key string) ([]byte, error) {
	data, err := i.Handler.Receive(ctx, key)
	if err == nil && data != nil {
		i.metrics.RecordTransfer(i.name, "in", len(data))
	}
	return data, err
}

// Send counts successful sends
func (i *Instrumented) Send(ctx context.Context, key string, data []byte) error {
	err := i.Handler.Send(ctx, key, data)
	if err == nil {
		i.metrics.RecordTransfer(i.name, "out", len(data))
	}
	return err
}

// Close marks the transport disconnected
func (i *Instrumented) Close(ctx context.Context) error {
	err := i.Handler.Close(ctx)
	i.metrics.RecordTransportStatus(i.name, false)
	return err
}
