package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/lineup/job"
)

// hooks holds the registered extensions implementing hook interface H, in
// registration order.
type hooks[H any] []named[H]

type named[H any] struct {
	name string
	hook H
}

func (hs *hooks[H]) offer(e Extension) {
	if h, ok := e.(H); ok {
		*hs = append(*hs, named[H]{name: e.Name(), hook: h})
	}
}

// Registry fans lifecycle events out to extensions. Each Emit method calls
// only the extensions implementing the matching hook. Hook errors and
// panics are logged and never reach the caller.
//
// Register every extension before the engine starts; Register is not safe
// to call concurrently with the Emit methods.
type Registry struct {
	logger *slog.Logger
	all    []Extension

	enqueued  hooks[JobEnqueued]
	activated hooks[JobActivated]
	progress  hooks[JobProgress]
	logs      hooks[JobLog]
	retrying  hooks[JobRetrying]
	completed hooks[JobCompleted]
	failed    hooks[JobFailed]
	removed   hooks[JobsRemoved]
	shutdown  hooks[Shutdown]
}

// NewRegistry creates an empty Registry. Hook errors and panics are logged
// to logger at warn level.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds e to every hook list it implements.
func (r *Registry) Register(e Extension) {
	r.all = append(r.all, e)
	r.enqueued.offer(e)
	r.activated.offer(e)
	r.progress.offer(e)
	r.logs.offer(e)
	r.retrying.offer(e)
	r.completed.offer(e)
	r.failed.offer(e)
	r.removed.offer(e)
	r.shutdown.offer(e)
}

// Extensions returns the registered extensions in order.
func (r *Registry) Extensions() []Extension { return r.all }

// fire calls each hook in hs, isolating failures to the hook that caused
// them.
func fire[H any](r *Registry, event string, hs hooks[H], call func(H) error) {
	for _, h := range hs {
		r.guard(event, h.name, func() error { return call(h.hook) })
	}
}

func (r *Registry) guard(event, ext string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.report(event, ext, fmt.Errorf("panic: %v", p))
		}
	}()
	if err := fn(); err != nil {
		r.report(event, ext, err)
	}
}

func (r *Registry) report(event, ext string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", event),
		slog.String("extension", ext),
		slog.String("error", err.Error()),
	)
}

// EmitJobEnqueued notifies JobEnqueued hooks that j was accepted.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	fire(r, "OnJobEnqueued", r.enqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

// EmitJobActivated notifies JobActivated hooks that an attempt of j started.
func (r *Registry) EmitJobActivated(ctx context.Context, j *job.Job) {
	fire(r, "OnJobActivated", r.activated, func(h JobActivated) error { return h.OnJobActivated(ctx, j) })
}

// EmitJobProgress notifies JobProgress hooks of an accepted progress update.
func (r *Registry) EmitJobProgress(ctx context.Context, jobID string, attempt, progress int) {
	fire(r, "OnJobProgress", r.progress, func(h JobProgress) error {
		return h.OnJobProgress(ctx, jobID, attempt, progress)
	})
}

// EmitJobLog notifies JobLog hooks of a line appended to an attempt.
func (r *Registry) EmitJobLog(ctx context.Context, jobID string, attempt int, line string) {
	fire(r, "OnJobLog", r.logs, func(h JobLog) error { return h.OnJobLog(ctx, jobID, attempt, line) })
}

// EmitJobRetrying notifies JobRetrying hooks that j failed an attempt and
// becomes eligible again at nextRunAt.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, jobErr error, nextRunAt time.Time) {
	fire(r, "OnJobRetrying", r.retrying, func(h JobRetrying) error {
		return h.OnJobRetrying(ctx, j, jobErr, nextRunAt)
	})
}

// EmitJobCompleted notifies JobCompleted hooks. elapsed is the duration of
// the final attempt.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	fire(r, "OnJobCompleted", r.completed, func(h JobCompleted) error {
		return h.OnJobCompleted(ctx, j, elapsed)
	})
}

// EmitJobFailed notifies JobFailed hooks that j failed with no attempts left.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	fire(r, "OnJobFailed", r.failed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

// EmitJobsRemoved notifies JobsRemoved hooks after cleanup evicted count jobs.
func (r *Registry) EmitJobsRemoved(ctx context.Context, count int64) {
	fire(r, "OnJobsRemoved", r.removed, func(h JobsRemoved) error { return h.OnJobsRemoved(ctx, count) })
}

// EmitShutdown notifies Shutdown hooks that the engine is stopping.
func (r *Registry) EmitShutdown(ctx context.Context) {
	fire(r, "OnShutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
