package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/lineup/job"
)

const scopeName = "github.com/xraph/lineup"

// Metrics records attempt metrics on the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(scopeName))
}

// MetricsWithMeter records attempt metrics on meter.
//
// Instruments:
//   - lineup.attempt.duration (histogram, seconds) by job_name, outcome, final
//   - lineup.attempt.count (counter) by job_name, outcome, final
//   - lineup.step.failures (counter) by job_name, step
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The metric API hands back working noop instruments alongside any
	// registration error.
	duration, _ := meter.Float64Histogram("lineup.attempt.duration", //nolint:errcheck // noop on error
		metric.WithDescription("Duration of job attempts"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter("lineup.attempt.count", //nolint:errcheck // noop on error
		metric.WithDescription("Job attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	stepFailures, _ := meter.Int64Counter("lineup.step.failures", //nolint:errcheck // noop on error
		metric.WithDescription("Pipeline step failures"),
		metric.WithUnit("{failure}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)

		set := metric.WithAttributeSet(attribute.NewSet(
			attribute.String("job_name", j.Name),
			attribute.String("outcome", string(Classify(err))),
			attribute.Bool("final", FinalAttempt(j)),
		))
		duration.Record(ctx, time.Since(start).Seconds(), set)
		attempts.Add(ctx, 1, set)

		if step := FailedStep(err); step != "" {
			stepFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("job_name", j.Name),
				attribute.String("step", step),
			))
		}
		return err
	}
}
