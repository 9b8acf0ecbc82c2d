// Package ext defines the lifecycle hooks a lineup extension can implement
// and the [Registry] that calls them.
//
// Every hook is its own interface, so an extension implements only the
// events it cares about:
//
//	type bell struct{}
//
//	func (bell) Name() string { return "bell" }
//
//	func (bell) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    fmt.Printf("%s ready after %s\n", j.ID, elapsed)
//	    return nil
//	}
//
// Job hooks follow the states of a job: [JobEnqueued], [JobActivated],
// [JobProgress] and [JobLog] while an attempt runs, then [JobRetrying],
// [JobCompleted] or [JobFailed]. [JobsRemoved] reports cleanup and
// [Shutdown] is called once when the dispatcher stops.
//
// Hooks run on the goroutine that caused the event and must return
// quickly.
package ext
