package pipeline

import (
	"context"
	"fmt"

	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/routine"
)

// TransformFunc updates an envelope in place, typically through
// UpdatePayload. An error drops the envelope.
type TransformFunc func(ctx context.Context, msg *message.Message) error

// Guard runs fn, turning a panic into an error wrapping
// errors.ErrCallbackPanic so that one bad envelope costs a tick, not the
// routine.
func Guard(name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", errors.ErrCallbackPanic, name, p)
		}
	}()
	return fn()
}

// Identity passes envelopes through unchanged
func Identity(context.Context, *message.Message) error { return nil }

// Transformer applies a TransformFunc to envelopes moving between two queues
type Transformer struct {
	in  *queue.Queue[*message.Message]
	out *queue.Queue[*message.Message]
	fn  TransformFunc
}

// NewTransformer creates the logic; a nil fn behaves like Identity
func NewTransformer(in, out *queue.Queue[*message.Message], fn TransformFunc) *Transformer {
	if fn == nil {
		fn = Identity
	}
	return &Transformer{in: in, out: out, fn: fn}
}

func (t *Transformer) Setup(context.Context, *routine.State) error { return nil }

func (t *Transformer) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	msg, ok := t.in.TryGet()
	if !ok {
		return routine.Idle, nil
	}

	if err := Guard("transform", func() error { return t.fn(ctx, msg) }); err != nil {
		st.Inc(FailedKey)
		return routine.Worked, err
	}

	routine.PutLatest(st, t.out, msg)
	return routine.Worked, nil
}

func (t *Transformer) Cleanup(context.Context, *routine.State) error { return nil }
