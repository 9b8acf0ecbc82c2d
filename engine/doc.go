// Package engine wires all lineup subsystems together and provides
// the primary application-level API for enqueuing and observing jobs.
//
// The engine package exists to break a fundamental import cycle: the root
// lineup package defines Entity and the sentinel errors (imported by job,
// store, etc.) and therefore cannot import those packages back. Engine sits
// above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	d, err := lineup.New(
//	    lineup.WithStore(memory.New()),
//	    lineup.WithRateLimit(1, time.Second),
//	    lineup.WithMaxAttempts(3),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithProcessor(kitchen.Pipeline()),
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	    engine.WithBackoff(retry.Constant{Interval: time.Second}),
//	)
//
// # Enqueuing Jobs
//
//	eng.Enqueue(ctx, kitchen.DefaultBurger(),
//	    job.WithID("Burger#1"),
//	    job.WithMaxAttempts(3),
//	)
//
// An id that is already tracked is rejected with lineup.ErrDuplicateJob.
//
// # Draining
//
// Start launches the dispatch loops; DrainOnce runs eligible jobs in the
// caller's goroutine. Both respect the activation limiter. WaitIdle blocks
// until nothing is waiting or active.
//
// # Options
//
//   - [WithProcessor] - set the work every job runs (required)
//   - [WithExtension] - register a lifecycle extension
//   - [WithMiddleware] - add a middleware to the execution chain
//   - [WithRetryPolicy] - replace the retry decision and delay
//   - [WithBackoff] - set the retry delay
//   - [WithClock] - inject a time source
//   - [WithTracerProvider] - set the OpenTelemetry tracer provider
//   - [WithMeterProvider] - set the OpenTelemetry meter provider
//   - [WithMetricFactory] - set the go-utils factory for lifecycle counters
package engine
