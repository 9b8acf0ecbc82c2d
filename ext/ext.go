package ext

import (
	"context"
	"time"

	"github.com/xraph/lineup/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is accepted into the waiting list.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobActivated is called when an attempt starts.
type JobActivated interface {
	OnJobActivated(ctx context.Context, j *job.Job) error
}

// JobProgress is called when the running attempt's progress advances.
type JobProgress interface {
	OnJobProgress(ctx context.Context, jobID string, attempt, progress int) error
}

// JobLog is called when the running attempt appends a log line.
type JobLog interface {
	OnJobLog(ctx context.Context, jobID string, attempt int, line string) error
}

// JobRetrying is called when an attempt failed and the job went back to
// waiting.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, err error, nextRunAt time.Time) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called once when a job fails terminally (no attempts left).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// JobsRemoved is called after finished jobs were removed by cleanup.
type JobsRemoved interface {
	OnJobsRemoved(ctx context.Context, count int64) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
