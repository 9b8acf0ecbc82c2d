package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/lineup/job"
)

// Tracing opens a span per attempt on the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(scopeName))
}

// TracingWithTracer opens a "lineup.attempt" span per attempt on tracer.
// The span carries the job id, the attempt number and limit, and on end the
// attempt outcome. A failure inside a pipeline step adds lineup.step.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "lineup.attempt",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("lineup.job.id", j.ID),
				attribute.String("lineup.job.name", j.Name),
				attribute.Int("lineup.job.attempt", j.Attempt),
				attribute.Int("lineup.job.max_attempts", j.MaxAttempts),
				attribute.Bool("lineup.job.final_attempt", FinalAttempt(j)),
			),
		)
		defer span.End()

		err := next(ctx)
		span.SetAttributes(attribute.String("lineup.attempt.outcome", string(Classify(err))))
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return nil
		}
		if step := FailedStep(err); step != "" {
			span.SetAttributes(attribute.String("lineup.step", step))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}
