// Package metric provides the Prometheus registry and metrics HTTP server used
// by PipeRT components.
//
// A MetricsRegistry owns a private prometheus.Registry preloaded with the Go
// runtime and process collectors plus the core runtime metrics (Metrics):
// component status, routine iterations, errors and drops, queue evictions,
// transport traffic and hop latency. Packages that expose their own metrics
// (queues, for example) register them through the MetricsRegistrar interface
// under a "<owner>.<metric>" key; registering the same key twice fails with an
// invalid-class error.
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordIteration("tracker", "detect", true)
//
//	srv := metric.NewServer(9090, "/metrics", registry)
//	go func() { _ = srv.Start() }()
//	defer srv.Stop(context.Background())
//
// The server exposes the OpenMetrics text format at the configured path and a
// plain "OK" liveness probe at /health.
package metric
