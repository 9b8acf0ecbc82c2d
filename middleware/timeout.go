package middleware

import (
	"context"
	"time"

	"github.com/xraph/lineup/job"
)

// Timeout bounds each attempt by the job's Timeout, or by fallback when the
// job sets none. A zero bound leaves the context alone. Pipelines notice the
// deadline at their next step boundary.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
