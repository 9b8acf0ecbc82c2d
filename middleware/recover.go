package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/lineup/job"
)

// PanicError is the failure recorded for an attempt whose processor
// panicked.
type PanicError struct {
	JobID string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobID, e.Value)
}

// Recover turns a panic inside the attempt into a *PanicError so only the
// attempt fails.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{JobID: j.ID, Value: r, Stack: debug.Stack()}
			logger.Error("processor panicked",
				slog.String("job_id", j.ID),
				slog.Int("attempt", j.Attempt),
				slog.Any("panic", r),
				slog.String("stack", string(pe.Stack)),
			)
			err = pe
		}()
		return next(ctx)
	}
}
