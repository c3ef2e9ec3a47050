package display

import (
	"context"

	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/pkg/retry"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// State counters
const (
	PairedKey  = "paired"
	SkippedKey = "skipped"
)

// Pair is a frame and the metadata fetched alongside it. Meta is nil when no
// metadata was available; the two are matched by fetch order only.
type Pair struct {
	Frame *message.Message
	Meta  *message.Message
}

// Visualizer renders metadata onto a frame and returns the new frame bytes
type Visualizer interface {
	Draw(ctx context.Context, frame []byte, meta *message.Message) ([]byte, error)
}

// VisualizerFunc adapts a function to Visualizer
type VisualizerFunc func(ctx context.Context, frame []byte, meta *message.Message) ([]byte, error)

func (f VisualizerFunc) Draw(ctx context.Context, frame []byte, meta *message.Message) ([]byte, error) {
	return f(ctx, frame, meta)
}

// pairReceiver fetches the newest frame and metadata on each tick
type pairReceiver struct {
	handler  transport.Handler
	frameKey string
	metaKey  string
	out      *queue.Queue[Pair]
	connect  retry.Config

	lastFrame string
}

func (p *pairReceiver) Setup(ctx context.Context, st *routine.State) error {
	p.lastFrame = ""
	return transport.ConnectWithRetry(ctx, p.handler, p.connect, st.Logger())
}

func (p *pairReceiver) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	meta, metaErr := pipeline.Fetch(ctx, p.handler, p.metaKey, st)
	frame, err := pipeline.Fetch(ctx, p.handler, p.frameKey, st)
	if err != nil {
		return routine.Idle, err
	}
	if frame == nil || frame.ID() == p.lastFrame {
		return routine.Idle, metaErr
	}
	p.lastFrame = frame.ID()

	frame.RecordEntry(st.Component(), st.Logger())
	if meta != nil {
		meta.RecordEntry(st.Component(), st.Logger())
		st.Inc(PairedKey)
	}

	routine.PutLatest(st, p.out, Pair{Frame: frame, Meta: meta})
	return routine.Worked, metaErr
}

func (p *pairReceiver) Cleanup(ctx context.Context, _ *routine.State) error {
	return pipeline.CloseTransport(ctx, p.handler, pipeline.DefaultCloseTimeout)
}

// visualize draws metadata onto frames. Frames whose drawing fails are still
// shown, undecorated.
type visualize struct {
	in  *queue.Queue[Pair]
	out *queue.Queue[*message.Message]
	vis Visualizer
}

func (v *visualize) Setup(context.Context, *routine.State) error { return nil }

func (v *visualize) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	pair, ok := v.in.TryGet()
	if !ok {
		return routine.Idle, nil
	}

	frame := pair.Frame
	var drawErr error
	if pair.Meta != nil && !pair.Meta.IsEmpty() {
		if v.vis != nil {
			var image []byte
			err := pipeline.Guard("visualize", func() (err error) {
				image, err = v.vis.Draw(ctx, frame.Payload(), pair.Meta)
				return err
			})
			if err != nil {
				st.Inc(pipeline.FailedKey)
				drawErr = err
			} else {
				frame.UpdatePayload(image)
			}
		}
		frame.AdoptHistory(pair.Meta)
	}
	frame.RecordExit(st.Component(), st.Logger())

	routine.PutLatest(st, v.out, frame)
	return routine.Worked, drawErr
}

func (v *visualize) Cleanup(context.Context, *routine.State) error { return nil }

// broadcast hands displayed frames to the viewers
type broadcast struct {
	in  *queue.Queue[*message.Message]
	hub *hub
}

func (b *broadcast) Setup(context.Context, *routine.State) error { return nil }

func (b *broadcast) MainLogic(_ context.Context, st *routine.State) (routine.Outcome, error) {
	frame, ok := b.in.TryGet()
	if !ok {
		return routine.Idle, nil
	}
	if skipped := b.hub.publish(frame); skipped > 0 {
		st.Add(SkippedKey, int64(skipped))
	}
	return routine.Worked, nil
}

func (b *broadcast) Cleanup(context.Context, *routine.State) error { return nil }
