// Package retry runs an operation with exponential backoff.
//
// Transport adapters use it to establish broker connections at component
// startup:
//
//	err := retry.Do(ctx, retry.Connect(), func(attempt int) error {
//	    return h.dial(ctx)
//	})
//
// An error wrapped with Permanent stops the loop immediately. Cancelling the
// context aborts the wait between attempts.
package retry
