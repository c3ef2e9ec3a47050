// Package relay provides a component that reads envelopes from one stream
// key, transforms them and publishes them under another key:
//
//	in_key -> receive -> [in] -> transform -> [out] -> send -> out_key
//
// Both queues hold queue_size items (1 by default) and use the evict-oldest
// policy, so a slow transform only ever sees the freshest input.
package relay

import (
	"fmt"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
	"github.com/Elon-Abulafia/PipeRT/pkg/queue"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// Queue and routine names
const (
	InQueue  = "in"
	OutQueue = "out"

	ReceiveRoutine   = "receive"
	TransformRoutine = "transform"
	SendRoutine      = "send"
)

// Config is the relay's component-specific configuration
type Config struct {
	InKey     string `json:"in_key" yaml:"in_key"`
	OutKey    string `json:"out_key" yaml:"out_key"`
	QueueSize int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	// AllowDuplicates forwards the newest input on every tick
	AllowDuplicates bool `json:"allow_duplicates,omitempty" yaml:"allow_duplicates,omitempty"`
}

// DefaultConfig returns a relay with single-slot queues
func DefaultConfig() Config {
	return Config{QueueSize: 1}
}

// Validate checks the keys
func (c Config) Validate() error {
	if c.InKey == "" || c.OutKey == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: in_key and out_key are required", errors.ErrMissingConfig),
			"relay", "Validate", "check keys")
	}
	if c.InKey == c.OutKey {
		return errors.WrapInvalid(fmt.Errorf("%w: in_key and out_key are both %q", errors.ErrInvalidConfig, c.InKey),
			"relay", "Validate", "check keys")
	}
	if c.QueueSize < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative queue_size", errors.ErrInvalidConfig),
			"relay", "Validate", "check queue size")
	}
	return nil
}

// Dependencies are the collaborators a relay is built from. Input and Output
// are owned by the relay's routines and must be distinct handlers.
type Dependencies struct {
	Input     transport.Handler
	Output    transport.Handler
	Transform pipeline.TransformFunc
	Options   []component.Option
}

// New builds the relay component. It is returned in the Created state.
func New(name string, cfg Config, deps Dependencies) (*component.Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Input == nil || deps.Output == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: input and output transports", errors.ErrMissingConfig),
			"relay", "New", "check dependencies")
	}

	c := component.New(name, deps.Options...)

	component.CreateQueue[*message.Message](c, InQueue, cfg.QueueSize)
	component.CreateQueue[*message.Message](c, OutQueue, cfg.QueueSize)
	in := component.MustQueue[*message.Message](c, InQueue)
	out := component.MustQueue[*message.Message](c, OutQueue)

	var recvOpts []pipeline.ReceiveOption
	if cfg.AllowDuplicates {
		recvOpts = append(recvOpts, pipeline.AllowDuplicates())
	}

	routines := []struct {
		name   string
		logic  routine.Logic
		queues []queue.Handle
	}{
		{ReceiveRoutine, pipeline.NewReceiver(deps.Input, cfg.InKey, in, recvOpts...), []queue.Handle{in}},
		{TransformRoutine, pipeline.NewTransformer(in, out, deps.Transform), []queue.Handle{in, out}},
		{SendRoutine, pipeline.NewSender(deps.Output, cfg.OutKey, out, pipeline.WithHopMetrics(c.CoreMetrics())), []queue.Handle{out}},
	}
	for _, r := range routines {
		if _, err := c.AddRoutine(r.name, r.logic, routine.WithQueues(r.queues...)); err != nil {
			return nil, errors.Wrap(err, "relay", "New", "register "+r.name)
		}
	}
	return c, nil
}
