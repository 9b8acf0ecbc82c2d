// Package audithook is a lineup extension that turns job lifecycle events
// into structured audit records.
//
// Every lifecycle hook emits an [AuditEvent] through the [Recorder]
// interface. Severity is info for normal operations, warning for retries
// and critical for terminal failures. Metadata carries the job name, the
// attempt counters, elapsed time and the error text.
//
// # Printing terminal outcomes
//
//	audithook.New(audithook.RecorderFunc(func(_ context.Context, evt *audithook.AuditEvent) error {
//	    _, err := fmt.Printf("%s %s\n", evt.ResourceID, evt.Outcome)
//	    return err
//	}), audithook.WithActions(audithook.ActionJobCompleted, audithook.ActionJobFailed))
//
// Recorder errors are logged and never reach the dispatcher.
package audithook
