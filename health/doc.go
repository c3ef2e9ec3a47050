// Package health describes the health of components and their workers.
//
// A Status carries one of three levels (healthy, degraded, unhealthy), a short
// message and optional per-worker checks. Aggregate folds checks into a parent
// status: any unhealthy check makes the parent unhealthy, otherwise any
// degraded check makes it degraded.
//
// ForWorker derives a worker's status from its lifecycle facts:
//
//	st := health.ForWorker("detect", health.WorkerFacts{
//	    Running:    true,
//	    Iterations: 1200,
//	    Errors:     3,
//	})
//
// Error text placed in a status is sanitized so broker URLs, addresses and
// credentials are not exposed through the control endpoint.
package health
