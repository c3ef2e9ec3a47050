package testutil

import (
	"context"
	"testing"
	"time"
)

// DefaultTimeout bounds every wait in this package
const DefaultTimeout = 5 * time.Second

// Runner is anything with a blocking Run returning a status code
type Runner interface {
	Run(ctx context.Context) int
}

// RunAsync calls r.Run on a goroutine; the status arrives on the channel
func RunAsync(ctx context.Context, r Runner) <-chan int {
	status := make(chan int, 1)
	go func() { status <- r.Run(ctx) }()
	return status
}

// WaitStatus waits for a status from RunAsync
func WaitStatus(t testing.TB, status <-chan int) int {
	t.Helper()
	select {
	case s := <-status:
		return s
	case <-time.After(DefaultTimeout):
		t.Fatal("Run did not return")
		return -1
	}
}

// WaitClosed waits for ch to be closed
func WaitClosed(t testing.TB, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(DefaultTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}
