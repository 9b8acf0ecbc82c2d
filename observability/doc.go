// Package observability provides a metrics extension for lineup. The
// MetricsExtension implements lifecycle hooks to record queue-wide go-utils
// counters for enqueue, activation, retry, completion, failure and cleanup
// events, plus an OpenTelemetry enqueue-to-completion latency histogram.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
