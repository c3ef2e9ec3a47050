// Package config loads the process configuration.
//
// A Loader starts from Default, merges each file layer over it key by key
// (JSON or YAML, chosen by extension) and finally applies PIPERT_* environment
// overrides:
//
//	loader := config.NewLoader()
//	loader.AddLayer("pipert.yaml")
//	loader.AddLayer("pipert.local.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// Recognised environment variables: PIPERT_LOG_LEVEL, PIPERT_LOG_FORMAT,
// PIPERT_TRANSPORT_URL, PIPERT_TRANSPORT_MAX_LEN, PIPERT_TRANSPORT_STREAM,
// PIPERT_METRICS_ENABLED, PIPERT_METRICS_PORT, PIPERT_METRICS_PATH and
// PIPERT_SHUTDOWN_TIMEOUT.
//
// Each entry under components names an instance; its type selects the
// factory and its config block is decoded by that factory with
// ComponentConfig.Decode.
package config
