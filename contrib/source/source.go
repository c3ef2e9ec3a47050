// Package source provides a component that publishes a sequence of files,
// typically JPEG frames, under a stream key at a fixed rate. It stands in for
// a camera when wiring and testing pipelines.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Elon-Abulafia/PipeRT/component"
	"github.com/Elon-Abulafia/PipeRT/errors"
	"github.com/Elon-Abulafia/PipeRT/message"
	"github.com/Elon-Abulafia/PipeRT/pipeline"
	"github.com/Elon-Abulafia/PipeRT/routine"
	"github.com/Elon-Abulafia/PipeRT/transport"
)

// Queue and routine names
const (
	FrameQueue     = "frames"
	CaptureRoutine = "capture_frame"
	UploadRoutine  = "upload"
)

// Config is the source's component-specific configuration
type Config struct {
	// Pattern is a filepath.Match glob; matches are published in name order
	Pattern string  `json:"pattern" yaml:"pattern"`
	OutKey  string  `json:"out_key" yaml:"out_key"`
	FPS     float64 `json:"fps,omitempty" yaml:"fps,omitempty"`
	// Loop restarts from the first file after the last one
	Loop bool `json:"loop,omitempty" yaml:"loop,omitempty"`
}

// DefaultConfig publishes at 30 frames per second, looping
func DefaultConfig() Config {
	return Config{OutKey: "camera:0", FPS: 30, Loop: true}
}

// Validate checks the pattern and key
func (c Config) Validate() error {
	if c.Pattern == "" || c.OutKey == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: pattern and out_key are required", errors.ErrMissingConfig),
			"source", "Validate", "check fields")
	}
	if _, err := filepath.Match(c.Pattern, ""); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "source", "Validate", "check pattern")
	}
	if c.FPS < 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: negative fps", errors.ErrInvalidConfig), "source", "Validate", "check fps")
	}
	return nil
}

// Dependencies are the source's collaborators
type Dependencies struct {
	Output  transport.Handler
	Options []component.Option
}

// New builds the source component in the Created state
func New(name string, cfg Config, deps Dependencies) (*component.Component, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Output == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: output transport", errors.ErrMissingConfig),
			"source", "New", "check dependencies")
	}

	c := component.New(name, deps.Options...)
	component.CreateQueue[*message.Message](c, FrameQueue, 1)
	frames := component.MustQueue[*message.Message](c, FrameQueue)

	files := &fileSequence{pattern: cfg.Pattern, loop: cfg.Loop}
	capture := pipeline.NewSource(name, cfg.FPS, frames, files.next)
	upload := pipeline.NewSender(deps.Output, cfg.OutKey, frames, pipeline.WithHopMetrics(c.CoreMetrics()))

	if _, err := c.AddRoutine(CaptureRoutine, capture, routine.WithQueues(frames)); err != nil {
		return nil, errors.Wrap(err, "source", "New", "register "+CaptureRoutine)
	}
	if _, err := c.AddRoutine(UploadRoutine, upload, routine.WithQueues(frames)); err != nil {
		return nil, errors.Wrap(err, "source", "New", "register "+UploadRoutine)
	}
	return c, nil
}

// fileSequence reads the files matching pattern one per call
type fileSequence struct {
	pattern string
	loop    bool

	once  sync.Once
	files []string
	err   error
	pos   int
}

func (f *fileSequence) next(context.Context) ([]byte, error) {
	f.once.Do(func() {
		f.files, f.err = filepath.Glob(f.pattern)
		sort.Strings(f.files)
		if f.err == nil && len(f.files) == 0 {
			f.err = fmt.Errorf("no files match %q", f.pattern)
		}
	})
	if f.err != nil {
		return nil, f.err
	}

	if f.pos == len(f.files) {
		if !f.loop {
			return nil, io.EOF
		}
		f.pos = 0
	}
	path := f.files[f.pos]
	f.pos++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "source", "next", "read "+path)
	}
	return data, nil
}
