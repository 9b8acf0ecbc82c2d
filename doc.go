// Package lineup provides a single-queue background job processor for Go.
// Producers enqueue jobs identified by a unique id; a rate-limited dispatch
// loop drains the queue, runs each job through a pluggable step pipeline that
// reports progress and log lines, and resolves it to completed or failed
// after a bounded number of attempts.
//
// Lineup is a library. Create a Dispatcher, build an engine around it, and
// hand it a processor:
//
//	d, err := lineup.New(
//	    lineup.WithStore(memory.New()),
//	    lineup.WithRateLimit(1, time.Second),
//	)
//
//	eng, err := engine.Build(d, engine.WithProcessor(kitchen.Pipeline()))
//	eng.Start(ctx)
//	eng.Enqueue(ctx, kitchen.Burger{Bun: "sesame"}, job.WithID("Burger#1"))
//
// # Lifecycle
//
//	waiting → active → completed
//	waiting → active → waiting → active → ...   (retry)
//	waiting → active → failed                  (attempts exhausted)
//
// Completed and failed are terminal; nothing leaves them.
//
// # Observing
//
// The engine exposes read-only snapshots (ListJobs, GetJob, Stats) and a
// stream broker for lifecycle events. The api package serves both over HTTP.
package lineup
