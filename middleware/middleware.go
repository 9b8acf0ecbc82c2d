package middleware

import (
	"context"
	"errors"
	"slices"

	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/pipeline"
)

// Handler runs one attempt of a job.
type Handler func(ctx context.Context) error

// Middleware wraps an attempt. j is the snapshot of the activated attempt;
// implementations call next unless they mean to end the attempt early.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware. The first entry runs outermost.
func Chain(mws ...Middleware) Middleware {
	mws = slices.Clone(mws)
	return func(ctx context.Context, j *job.Job, final Handler) error {
		var at func(ctx context.Context, i int) error
		at = func(ctx context.Context, i int) error {
			if i == len(mws) {
				return final(ctx)
			}
			return mws[i](ctx, j, func(ctx context.Context) error {
				return at(ctx, i+1)
			})
		}
		return at(ctx, 0)
	}
}

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFailed   Outcome = "failed"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
	OutcomePanic    Outcome = "panic"
)

// Classify maps the error returned by an attempt to its Outcome.
func Classify(err error) Outcome {
	var pe *PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pe):
		return OutcomePanic
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// FailedStep returns the name of the pipeline step that produced err, or
// "" when err did not come from a step.
func FailedStep(err error) string {
	var se *pipeline.StepError
	if errors.As(err, &se) {
		return se.Step
	}
	return ""
}

// FinalAttempt reports whether j is running its last allowed attempt.
func FinalAttempt(j *job.Job) bool {
	return j.MaxAttempts > 0 && j.Attempt >= j.MaxAttempts
}
