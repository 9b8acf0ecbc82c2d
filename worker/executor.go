// Package worker provides the job execution engine: an Executor that runs
// one attempt of a job through middleware and the processor, and a Pool
// that drains the waiting list under the queue limiter.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/middleware"
	"github.com/xraph/lineup/pipeline"
	"github.com/xraph/lineup/retry"
)

// Executor runs a single attempt of a job through middleware and the
// processor, then resolves the attempt: completed, requeued for another
// attempt, or failed.
type Executor struct {
	processor  pipeline.Processor
	extensions *ext.Registry
	store      job.Store
	policy     retry.Policy
	position   retry.Position
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
	onRequeue  func()
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRequeuePosition sets where retried jobs re-enter the waiting list.
func WithRequeuePosition(pos retry.Position) ExecutorOption {
	return func(e *Executor) { e.position = pos }
}

// WithMiddleware sets the middleware wrapped around every attempt.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithExecutorClock replaces time.Now for resolution timestamps.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithRequeueNotify registers fn to be called after a job is requeued.
// The pool uses it to wake idle dispatch loops.
func WithRequeueNotify(fn func()) ExecutorOption {
	return func(e *Executor) { e.onRequeue = fn }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	processor pipeline.Processor,
	extensions *ext.Registry,
	store job.Store,
	policy retry.Policy,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		processor:  processor,
		extensions: extensions,
		store:      store,
		policy:     policy,
		position:   retry.Tail,
		mw:         middleware.Chain(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the activated job j through the middleware chain and the
// processor.
// On success: marks completed, emits JobCompleted.
// On failure with attempts remaining: requeues, emits JobRetrying.
// On failure otherwise: marks failed, emits JobFailed.
//
// The returned error is the attempt's failure, nil on success. Store
// errors during resolution are returned as well.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := e.now()
	rep := &reporter{ctx: ctx, exec: e, jobID: j.ID, attempt: j.Attempt}

	terminal := func(ctx context.Context) error {
		return e.processor.Process(ctx, j, rep)
	}

	err := e.mw(ctx, j, terminal)
	elapsed := e.now().Sub(start)

	// Resolution must land even when the attempt was cut short by its own
	// deadline or by shutdown.
	ctx = context.WithoutCancel(ctx)

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, elapsed)
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	done, err := e.store.CompleteJob(ctx, j.ID, j.Attempt)
	if err != nil {
		e.logger.Error("failed to complete job",
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobCompleted(ctx, done, elapsed)
	return nil
}

// handleFailure asks the retry policy whether the job runs again.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, jobErr error) error {
	again, delay := e.policy.Next(j.Attempt, j.MaxAttempts, jobErr)
	if again && j.Attempt < j.MaxAttempts {
		return e.scheduleRetry(ctx, j, jobErr, delay)
	}
	return e.fail(ctx, j, jobErr)
}

// scheduleRetry sends the job back to the waiting list.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, jobErr error, delay time.Duration) error {
	nextRunAt := e.now().Add(delay)

	requeued, err := e.store.RequeueJob(ctx, j.ID, j.Attempt, jobErr.Error(), nextRunAt, e.position)
	if err != nil {
		e.logger.Error("failed to requeue job",
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobRetrying(ctx, requeued, jobErr, nextRunAt)
	if e.onRequeue != nil {
		e.onRequeue()
	}

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
		slog.String("position", e.position.String()),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.ID, j.Attempt, j.MaxAttempts, jobErr)
}

// fail resolves the job as failed. The failed event is emitted only when
// the store accepted the transition, so it fires once per job.
func (e *Executor) fail(ctx context.Context, j *job.Job, jobErr error) error {
	failed, err := e.store.FailJob(ctx, j.ID, j.Attempt, jobErr.Error())
	if err != nil {
		e.logger.Error("failed to mark job as failed",
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, failed, jobErr)

	e.logger.Warn("job failed after exhausting attempts",
		slog.String("job_id", j.ID),
		slog.String("job_name", j.Name),
		slog.Int("attempt", j.Attempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.String("error", jobErr.Error()),
	)

	return jobErr
}

// reporter writes progress and log lines for one attempt. Writes for an
// attempt that is no longer active are dropped by the store.
type reporter struct {
	ctx     context.Context
	exec    *Executor
	jobID   string
	attempt int
}

func (r *reporter) Progress(pct int) {
	ctx := context.WithoutCancel(r.ctx)
	changed, err := r.exec.store.UpdateProgress(ctx, r.jobID, r.attempt, pct)
	if err != nil {
		r.exec.logger.Debug("progress dropped",
			slog.String("job_id", r.jobID),
			slog.Int("attempt", r.attempt),
			slog.Int("progress", pct),
			slog.String("error", err.Error()),
		)
		return
	}
	if !changed {
		return
	}
	r.exec.extensions.EmitJobProgress(ctx, r.jobID, r.attempt, max(0, min(100, pct)))
}

func (r *reporter) Log(line string) {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.exec.store.AppendLog(ctx, r.jobID, r.attempt, line); err != nil {
		r.exec.logger.Debug("log line dropped",
			slog.String("job_id", r.jobID),
			slog.Int("attempt", r.attempt),
			slog.String("error", err.Error()),
		)
		return
	}
	r.exec.extensions.EmitJobLog(ctx, r.jobID, r.attempt, line)
}
