// Package middleware wraps each job attempt with logging, panic recovery,
// deadlines and OpenTelemetry instrumentation.
//
// The engine installs, outermost first:
//
//	Recover, Tracing, Metrics, Logging, Timeout
//
// and appends anything passed through engine.WithMiddleware. [Classify],
// [FailedStep] and [FinalAttempt] give custom middleware the same view of an
// attempt that the built-in ones report.
package middleware
