// Package routine implements the unit of repeated work in a PipeRT pipeline.
//
// A Routine wraps a Logic with a fixed lifecycle:
//
//	Unbound -> Bound -> Running -> Stopping -> Terminated
//
// Bind attaches the component's shared StopSignal exactly once. Start runs
// Setup, then calls MainLogic in a loop until the signal is set, then runs
// Cleanup. The signal is checked at the top of every iteration, never in the
// middle of MainLogic, so MainLogic must return promptly. An Idle outcome
// yields the processor before the next iteration.
//
// Errors returned by MainLogic are routine-local: they are logged, counted in
// Stats and the loop continues. A panic ends the loop; Cleanup still runs and
// Join returns the panic as an error. A Setup error means the loop is never
// entered and Join returns it.
//
// Producers that feed bounded queues use PutLatest, which evicts whatever is
// queued before inserting so the consumer always sees the freshest item:
//
//	func (p *producer) MainLogic(ctx context.Context, st *routine.State) (routine.Outcome, error) {
//	    frame, ok := p.camera.Next()
//	    if !ok {
//	        return routine.Idle, nil
//	    }
//	    routine.PutLatest(st, p.out, frame)
//	    return routine.Worked, nil
//	}
package routine
