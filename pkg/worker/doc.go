// Package worker defines the managed-worker interface a component starts and
// joins, and the two opaque variants that are not routines.
//
// A component owns an ordered list of Workers. Routines are one variant (see
// package routine); the others are:
//
//   - Background: a goroutine running a function until its context is cancelled.
//   - Process: an OS process, stopped with SIGTERM when its context is
//     cancelled and killed after a grace period.
//
// The component never inspects concrete types. It derives the context passed
// to Start from its stop signal, so cancelling that context is how every
// variant learns it must stop.
package worker
