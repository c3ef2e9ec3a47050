package pipeline

import (
	"context"
	"time"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// State counters maintained by the pipeline logics
const (
	ReceivedKey   = "received"
	DuplicatesKey = "duplicates"
	InvalidKey    = "invalid"
	SentKey       = "sent"
	FailedKey     = "failed"
	ProducedKey   = "produced"
)

// DefaultCloseTimeout bounds the transport Close during cleanup
const DefaultCloseTimeout = 5 * time.Second

// Receiver moves the newest envelope stored under a key into a queue. The
// transport keeps returning the same newest entry until a new one arrives,
// so envelopes already seen are skipped unless duplicates are allowed.
type Receiver struct {
	handler      transport.Handler
	key          string
	out          *queue.Queue[*message.Message]
	dedup        bool
	connect      retry.Config
	closeTimeout time.Duration

	lastID string
}

// ReceiveOption configures a Receiver
type ReceiveOption func(*Receiver)

// AllowDuplicates queues the newest envelope on every tick, even when it was
// already delivered
func AllowDuplicates() ReceiveOption {
	return func(r *Receiver) {
		r.dedup = false
	}
}

// WithReceiveConnectRetry sets the backoff used to connect during setup
func WithReceiveConnectRetry(cfg retry.Config) ReceiveOption {
	return func(r *Receiver) {
		r.connect = cfg
	}
}

// NewReceiver creates a receiving logic that owns h: it connects in Setup
// and closes in Cleanup
func NewReceiver(h transport.Handler, key string, out *queue.Queue[*message.Message], opts ...ReceiveOption) *Receiver {
	r := &Receiver{
		handler:      h,
		key:          key,
		out:          out,
		dedup:        true,
		connect:      retry.Connect(),
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Key returns the stream key read from
func (r *Receiver) Key() string { return r.key }

func (r *Receiver) Setup(ctx context.Context, st *routine.State) error {
	r.lastID = ""
	return transport.ConnectWithRetry(ctx, r.handler, r.connect, st.Logger())
}

func (r *Receiver) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	msg, err := Fetch(ctx, r.handler, r.key, st)
	if err != nil || msg == nil {
		return routine.Idle, err
	}

	if r.dedup && msg.ID() == r.lastID {
		st.Inc(DuplicatesKey)
		return routine.Idle, nil
	}
	r.lastID = msg.ID()

	msg.RecordEntry(st.Component(), st.Logger())
	st.Inc(ReceivedKey)
	routine.PutLatest(st, r.out, msg)
	return routine.Worked, nil
}

func (r *Receiver) Cleanup(ctx context.Context, _ *routine.State) error {
	return CloseTransport(ctx, r.handler, r.closeTimeout)
}

// Fetch receives and decodes the newest entry under key. It returns nil, nil
// when nothing is stored; undecodable entries count under InvalidKey.
func Fetch(ctx context.Context, h transport.Handler, key string, st *routine.State) (*message.Message, error) {
	data, err := h.Receive(ctx, key)
	if err != nil {
		return nil, errors.Wrap(err, "pipeline", "Receive", "receive "+key)
	}
	if data == nil {
		return nil, nil
	}

	msg, err := message.Decode(data)
	if err != nil {
		st.Inc(InvalidKey)
		return nil, errors.Wrap(err, "pipeline", "Receive", "decode "+key)
	}
	return msg, nil
}

// CloseTransport closes h within timeout, even when ctx is already done
func CloseTransport(ctx context.Context, h transport.Handler, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	return h.Close(ctx)
}
