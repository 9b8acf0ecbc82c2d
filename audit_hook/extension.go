package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
)

var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobActivated = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobsRemoved  = (*Extension)(nil)
)

// Recorder stores audit events.
type Recorder interface {
	Record(ctx context.Context, evt *AuditEvent) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, evt *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, evt *AuditEvent) error { return f(ctx, evt) }

// AuditEvent is one recorded transition.
type AuditEvent struct {
	At          time.Time      `json:"at"`
	Action      Action         `json:"action"`
	Category    string         `json:"category"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resource_id,omitempty"`
	Attempt     int            `json:"attempt,omitempty"`
	MaxAttempts int            `json:"max_attempts,omitempty"`
	Severity    Severity       `json:"severity"`
	Outcome     Outcome        `json:"outcome"`
	Reason      string         `json:"reason,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Extension records job lifecycle transitions through a Recorder.
type Extension struct {
	recorder Recorder
	only     map[Action]struct{}
	logger   *slog.Logger
	now      func() time.Time
}

func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{recorder: r, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Extension) Name() string { return "audit-hook" }

func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	e.record(ctx, e.forJob(ActionJobEnqueued, j, nil))
	return nil
}

func (e *Extension) OnJobActivated(ctx context.Context, j *job.Job) error {
	e.record(ctx, e.forJob(ActionJobActivated, j, nil))
	return nil
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, jobErr error, nextRunAt time.Time) error {
	evt := e.forJob(ActionJobRetrying, j, jobErr)
	evt.Metadata["next_run_at"] = nextRunAt.UTC().Format(time.RFC3339)
	e.record(ctx, evt)
	return nil
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	evt := e.forJob(ActionJobCompleted, j, nil)
	evt.Metadata["elapsed_ms"] = elapsed.Milliseconds()
	e.record(ctx, evt)
	return nil
}

func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	evt := e.forJob(ActionJobFailed, j, jobErr)
	evt.Metadata["progress"] = j.Progress
	e.record(ctx, evt)
	return nil
}

func (e *Extension) OnJobsRemoved(ctx context.Context, count int64) error {
	evt := e.event(ActionJobsRemoved, nil)
	evt.Category, evt.Resource = CategoryQueue, ResourceQueue
	evt.Metadata["count"] = count
	e.record(ctx, evt)
	return nil
}

func (e *Extension) event(a Action, err error) *AuditEvent {
	sev, out := a.grade()
	evt := &AuditEvent{
		At:       e.now().UTC(),
		Action:   a,
		Severity: sev,
		Outcome:  out,
		Metadata: map[string]any{},
	}
	if err != nil {
		evt.Reason = err.Error()
	}
	return evt
}

func (e *Extension) forJob(a Action, j *job.Job, err error) *AuditEvent {
	evt := e.event(a, err)
	evt.Category, evt.Resource, evt.ResourceID = CategoryJob, ResourceJob, j.ID
	evt.Attempt, evt.MaxAttempts = j.Attempt, j.MaxAttempts
	evt.Metadata["job_name"] = j.Name
	return evt
}

// record hands evt to the recorder unless its action is filtered out.
// Recorder failures are logged and not returned.
func (e *Extension) record(ctx context.Context, evt *AuditEvent) {
	if e.only != nil {
		if _, ok := e.only[evt.Action]; !ok {
			return
		}
	}
	if err := e.recorder.Record(ctx, evt); err != nil {
		e.logger.Warn("audit event not recorded",
			slog.String("action", string(evt.Action)),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
