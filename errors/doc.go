// Package errors provides the error taxonomy used by the PipeRT runtime.
//
// # Classification
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or a registration conflict, do not retry) and Fatal
// (unrecoverable for the routine or component that hit it).
//
// # Runtime conditions
//
// The lifecycle code returns sentinel errors that callers match with
// errors.Is:
//
//	if err := comp.RegisterRoutine(r); errors.Is(err, errors.ErrAlreadyRegistered) {
//	    // the routine is owned by another component
//	}
//
//	q, err := component.GetQueue[*message.Message](comp, "frames")
//	if errors.Is(err, errors.ErrQueueNotFound) {
//	    // create it first
//	}
//
// Absence of data and a full downstream queue are not errors: routines
// report them as an Idle outcome or handle them with the drop policy.
//
// # Wrapping
//
// Wrap produces messages of the form "component.method: action failed: cause".
// WrapTransient, WrapInvalid and WrapFatal additionally attach a class:
//
//	if err := logic.Setup(ctx, st); err != nil {
//	    return errors.WrapFatal(err, "Routine", "run", "setup")
//	}
package errors
