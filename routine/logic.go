package routine

import "context"

// Outcome reports whether a MainLogic call advanced any work. It feeds
// statistics and idle yielding only; the loop continues either way.
type Outcome int

const (
	// Idle means nothing was available this tick
	Idle Outcome = iota
	// Worked means an item was processed
	Worked
)

func (o Outcome) String() string {
	if o == Worked {
		return "worked"
	}
	return "idle"
}

// Logic is the behaviour a Routine drives
type Logic interface {
	// Setup runs once before the loop. An error prevents the loop from starting.
	Setup(ctx context.Context, st *State) error
	// MainLogic performs one bounded unit of work.
	MainLogic(ctx context.Context, st *State) (Outcome, error)
	// Cleanup runs once after the loop ends.
	Cleanup(ctx context.Context, st *State) error
}

// Funcs adapts plain functions to Logic. Nil fields are no-ops; a nil Main
// reports Idle.
type Funcs struct {
	SetupFunc   func(ctx context.Context, st *State) error
	MainFunc    func(ctx context.Context, st *State) (Outcome, error)
	CleanupFunc func(ctx context.Context, st *State) error
}

func (f Funcs) Setup(ctx context.Context, st *State) error {
	if f.SetupFunc == nil {
		return nil
	}
	return f.SetupFunc(ctx, st)
}

func (f Funcs) MainLogic(ctx context.Context, st *State) (Outcome, error) {
	if f.MainFunc == nil {
		return Idle, nil
	}
	return f.MainFunc(ctx, st)
}

func (f Funcs) Cleanup(ctx context.Context, st *State) error {
	if f.CleanupFunc == nil {
		return nil
	}
	return f.CleanupFunc(ctx, st)
}
