package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/lineup/job"
)

// Reporter publishes progress and log lines for the running attempt.
// Progress values are clamped to [0, 100] and values lower than the current
// progress are ignored.
type Reporter interface {
	Progress(pct int)
	Log(line string)
}

// Processor runs one attempt of a job. A nil return completes the job; any
// error fails the attempt.
type Processor interface {
	Process(ctx context.Context, j *job.Job, r Reporter) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, j *job.Job, r Reporter) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, j *job.Job, r Reporter) error {
	return f(ctx, j, r)
}

// Step is one named unit of a Pipeline.
type Step struct {
	// Name identifies the step in errors and logs.
	Name string

	// Log lines are appended before Run is called.
	Log []string

	// Progress is reported after Log. Zero reports nothing.
	Progress int

	// Run performs the step's work. Nil means the step only reports.
	Run func(ctx context.Context, j *job.Job, r Reporter) error
}

// StepError is returned by Pipeline.Process when a step fails.
type StepError struct {
	Step  string
	Index int
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Pipeline runs its steps in order and stops at the first failure.
type Pipeline struct {
	steps []Step
}

// New creates a pipeline from steps.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: append([]Step(nil), steps...)}
}

// Steps returns a copy of the pipeline's steps.
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Process implements Processor. The context is checked before every step,
// so a cancelled attempt stops at the next step boundary.
func (p *Pipeline) Process(ctx context.Context, j *job.Job, r Reporter) error {
	for i, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return &StepError{Step: s.Name, Index: i, Err: err}
		}
		for _, line := range s.Log {
			r.Log(line)
		}
		if s.Progress > 0 {
			r.Progress(s.Progress)
		}
		if s.Run == nil {
			continue
		}
		if err := s.Run(ctx, j, r); err != nil {
			return &StepError{Step: s.Name, Index: i, Err: err}
		}
	}
	return nil
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
