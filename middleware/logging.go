package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/lineup/job"
)

// Logging logs one line when an attempt starts and one when it ends.
// Failures on the final attempt are logged at Warn, earlier ones at Info.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		l := logger.With(
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.Int("max_attempts", j.MaxAttempts),
		)
		l.Debug("attempt started", slog.String("job_name", j.Name))

		start := time.Now()
		err := next(ctx)
		attrs := []slog.Attr{
			slog.Duration("elapsed", time.Since(start)),
			slog.String("outcome", string(Classify(err))),
		}
		if err == nil {
			l.LogAttrs(ctx, slog.LevelInfo, "attempt finished", attrs...)
			return nil
		}

		if step := FailedStep(err); step != "" {
			attrs = append(attrs, slog.String("step", step))
		}
		attrs = append(attrs, slog.String("error", err.Error()))
		level := slog.LevelInfo
		if FinalAttempt(j) {
			level = slog.LevelWarn
		}
		l.LogAttrs(ctx, level, "attempt finished", attrs...)
		return err
	}
}
