package testutil

import (
	"context"
	"sync/atomic"

	"github.com/Elon-Abulafia/PipeRT/transport"
)

// FlakyHandler fails the first Failures calls to Connect with Err and then
// delegates to the embedded handler
type FlakyHandler struct {
	transport.Handler
	Failures int32
	Err      error

	calls atomic.Int32
}

// NewFlakyHandler wraps h
func NewFlakyHandler(h transport.Handler, failures int32, err error) *FlakyHandler {
	return &FlakyHandler{Handler: h, Failures: failures, Err: err}
}

func (f *FlakyHandler) Connect(ctx context.Context) error {
	if f.calls.Add(1) <= f.Failures {
		return f.Err
	}
	return f.Handler.Connect(ctx)
}

// ConnectCalls returns the number of Connect attempts
func (f *FlakyHandler) ConnectCalls() int32 { return f.calls.Load() }
