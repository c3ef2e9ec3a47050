package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Elon-Abulafia/PipeRT/routine"
)

// CountingLogic is a routine.Logic that counts its calls. MainLogic runs Work
// when set and otherwise reports Idle after a millisecond.
type CountingLogic struct {
	Work       func(ctx context.Context, st *routine.State) (routine.Outcome, error)
	SetupErr   error
	CleanupErr error

	setups     atomic.Int64
	iterations atomic.Int64
	cleanups   atomic.Int64
}

func (l *CountingLogic) Setup(context.Context, *routine.State) error {
	l.setups.Add(1)
	return l.SetupErr
}

func (l *CountingLogic) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
	l.iterations.Add(1)
	if l.Work != nil {
		return l.Work(ctx, st)
	}
	time.Sleep(time.Millisecond)
	return routine.Idle, nil
}

func (l *CountingLogic) Cleanup(context.Context, *routine.State) error {
	l.cleanups.Add(1)
	return l.CleanupErr
}

// Setups returns the number of Setup calls
func (l *CountingLogic) Setups() int64 { return l.setups.Load() }

// Iterations returns the number of MainLogic calls
func (l *CountingLogic) Iterations() int64 { return l.iterations.Load() }

// Cleanups returns the number of Cleanup calls
func (l *CountingLogic) Cleanups() int64 { return l.cleanups.Load() }
