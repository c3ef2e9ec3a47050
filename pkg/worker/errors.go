package worker

import "errors"

var (
	// ErrNilFunc indicates NewBackground was given a nil function
	ErrNilFunc = errors.New("worker function cannot be nil")

	// ErrEmptyCommand indicates NewProcess was given no executable
	ErrEmptyCommand = errors.New("process command cannot be empty")
)
