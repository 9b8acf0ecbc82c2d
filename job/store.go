package job

import (
	"context"
	"time"

	"github.com/xraph/lineup/retry"
)

// ListOpts controls filtering and pagination for job list queries. Jobs are
// returned in enqueue order.
type ListOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs. Implementations apply
// every state change atomically and return copies, never references into
// their own state.
type Store interface {
	// EnqueueJob persists a new waiting job at the tail of the waiting list.
	// Returns lineup.ErrDuplicateJob if the id is already tracked.
	EnqueueJob(ctx context.Context, j *Job) error

	// HasEligible reports whether a waiting job is eligible at now.
	HasEligible(ctx context.Context, now time.Time) (bool, error)

	// DequeueJob pops the first waiting job eligible at now, activates it
	// (see Job.Activate) and returns a copy. Returns nil, nil if no job is
	// eligible.
	DequeueJob(ctx context.Context, now time.Time) (*Job, error)

	// RequeueJob applies Job.Requeue to the given attempt and inserts the
	// job at pos in the waiting list.
	RequeueJob(ctx context.Context, jobID string, attempt int, cause string, runAt time.Time, pos retry.Position) (*Job, error)

	// CompleteJob applies Job.Complete to the given attempt.
	CompleteJob(ctx context.Context, jobID string, attempt int) (*Job, error)

	// FailJob applies Job.Fail to the given attempt.
	FailJob(ctx context.Context, jobID string, attempt int, cause string) (*Job, error)

	// UpdateProgress applies Job.SetProgress and reports whether the stored
	// progress changed.
	UpdateProgress(ctx context.Context, jobID string, attempt, pct int) (bool, error)

	// AppendLog applies Job.AppendLog.
	AppendLog(ctx context.Context, jobID string, attempt int, line string) error

	// GetJob retrieves a copy of a job. Returns lineup.ErrJobNotFound if
	// the id is not tracked.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobs returns copies of the jobs matching opts.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns per-state counts.
	CountJobs(ctx context.Context) (Stats, error)

	// DeleteJob stops tracking a job.
	DeleteJob(ctx context.Context, jobID string) error

	// DeleteFinishedBefore stops tracking terminal jobs that finished
	// before cutoff and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
