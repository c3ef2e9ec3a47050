// Package component groups routines and opaque workers under one name, owns
// the queues between them and coordinates their shutdown.
//
// A Component holds a single routine.StopSignal, created set. Registering a
// routine binds that signal to it, which is also what prevents a routine from
// joining two components. Run clears the signal, starts every worker in
// registration order and blocks until the signal is set again (by StopRun,
// SIGTERM/SIGINT, the control endpoint or cancellation of the Run context).
// StopRun sets the signal, calls the teardown hook and joins every worker.
// Both return a status code: 0 on success, 1 if a join or the teardown failed.
// Both are idempotent and return the cached status on later calls.
//
//	c := component.New("tracker", component.WithEndpoint("tcp://0.0.0.0:4242"))
//	component.CreateQueue[*message.Message](c, "in", 1)
//	in, _ := component.GetQueue[*message.Message](c, "in")
//
//	_ = c.RegisterRoutine(routine.New("receive", pipeline.Receive(handler, "camera:2", in),
//	    routine.WithQueues(in)))
//	os.Exit(c.Run(ctx))
package component
