package pipeline

import (
	"context"
	stderrors "errors"
	"io"

	"golang.org/x/time/rate"

	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/routine"
)

// ProduceFunc returns the next payload. io.EOF marks the source exhausted;
// the routine then idles until stopped.
type ProduceFunc func(ctx context.Context) ([]byte, error)

// ExhaustedKey is set in the state bag once the ProduceFunc returned io.EOF
const ExhaustedKey = "exhausted"

// Source wraps produced payloads in envelopes at most fps times a second
type Source struct {
	name    string
	out     *queue.Queue[*message.Message]
	produce ProduceFunc
	limiter *rate.Limiter
}

// NewSource creates the logic; fps <= 0 disables pacing. Envelopes carry name
// as their source.
func NewSource(name string, fps float64, out *queue.Queue[*message.Message], produce ProduceFunc) *Source {
	limit := rate.Inf
	if fps > 0 {
		limit = rate.Limit(fps)
	}
	return &Source{
		name:    name,
		out:     out,
		produce: produce,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// FPS returns the configured rate, 0 when unpaced
func (s *Source) FPS() float64 {
	if s.limiter.Limit() == rate.Inf {
		return 0
	}
	return float64(s.limiter.Limit())
}

func (s *Source) Setup(context.Context, *routine.State) error { return nil }

func (s *Source) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	if _, done := st.Get(ExhaustedKey); done {
		return routine.Idle, nil
	}
	if !s.limiter.Allow() {
		return routine.Idle, nil
	}

	payload, err := s.produce(ctx)
	if stderrors.Is(err, io.EOF) {
		st.Set(ExhaustedKey, true)
		st.Logger().Info("Source exhausted", "produced", st.Counter(ProducedKey))
		return routine.Idle, nil
	}
	if err != nil {
		return routine.Idle, err
	}

	msg := message.New(payload, message.WithSource(s.name))
	msg.RecordEntry(st.Component(), st.Logger())
	st.Inc(ProducedKey)
	routine.PutLatest(st, s.out, msg)
	return routine.Worked, nil
}

func (s *Source) Cleanup(context.Context, *routine.State) error { return nil }
