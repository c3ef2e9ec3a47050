package pipeline

import (
	"context"
	"time"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/metric"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// Sender publishes the newest queued envelope under a key, closing the
// component's hop in its history first. Older queued envelopes are dropped.
type Sender struct {
	handler      transport.Handler
	key          string
	in           *queue.Queue[*message.Message]
	connect      retry.Config
	closeTimeout time.Duration
	metrics      *metric.Metrics
}

// SendOption configures a Sender
type SendOption func(*Sender)

// WithSendConnectRetry sets the backoff used to connect during setup
func WithSendConnectRetry(cfg retry.Config) SendOption {
	return func(s *Sender) {
		s.connect = cfg
	}
}

// WithHopMetrics records how long each envelope spent in the component
func WithHopMetrics(m *metric.Metrics) SendOption {
	return func(s *Sender) {
		s.metrics = m
	}
}

// NewSender creates a sending logic that owns h
func NewSender(h transport.Handler, key string, in *queue.Queue[*message.Message], opts ...SendOption) *Sender {
	s := &Sender{
		handler:      h,
		key:          key,
		in:           in,
		connect:      retry.Connect(),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the stream key written to
func (s *Sender) Key() string { return s.key }

func (s *Sender) Setup(ctx context.Context, st *routine.State) error {
	return transport.ConnectWithRetry(ctx, s.handler, s.connect, st.Logger())
}

func (s *Sender) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	msg, ok := routine.TakeLatest(st, s.in)
	if !ok {
		return routine.Idle, nil
	}

	msg.RecordExit(st.Component(), st.Logger())
	if s.metrics != nil {
		if hop, ok := msg.LastHop(); ok {
			s.metrics.RecordHop(st.Component(), hop.Duration())
		}
	}

	if err := sendMessage(ctx, s.handler, s.key, msg); err != nil {
		st.Inc(FailedKey)
		return routine.Worked, err
	}
	st.Inc(SentKey)
	return routine.Worked, nil
}

func (s *Sender) Cleanup(ctx context.Context, _ *routine.State) error {
	return CloseTransport(ctx, s.handler, s.closeTimeout)
}

func sendMessage(ctx context.Context, h transport.Handler, key string, msg *message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return errors.Wrap(err, "pipeline", "Send", "encode")
	}
	if err := h.Send(ctx, key, data); err != nil {
		return errors.Wrap(err, "pipeline", "Send", "send "+key)
	}
	return nil
}
