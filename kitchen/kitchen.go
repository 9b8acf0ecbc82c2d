package kitchen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/pipeline"
)

// ErrToastBurnt is the failure injected after the first step.
var ErrToastBurnt = errors.New("Toast burnt!") //nolint:staticcheck // user-facing text

// Burger is the job payload.
type Burger struct {
	Bun      string   `json:"bun"`
	Cheese   string   `json:"cheese"`
	Toppings []string `json:"toppings"`
}

// DefaultBurger is the payload of every demonstration job.
func DefaultBurger() Burger {
	return Burger{
		Bun:      "🍔",
		Cheese:   "🧀",
		Toppings: []string{"🍅", "🫒", "🥒", "🌶️"},
	}
}

// Options tunes the burger pipeline.
type Options struct {
	// StepDelay is the simulated latency of every step.
	StepDelay time.Duration

	// Fault is consulted once per attempt after the first step.
	// Nil means Never.
	Fault Fault
}

// Option configures Options.
type Option func(*Options)

// DefaultStepDelay matches the pace of the demonstration.
const DefaultStepDelay = 5 * time.Second

// WithStepDelay sets the simulated latency of every step.
func WithStepDelay(d time.Duration) Option {
	return func(o *Options) { o.StepDelay = d }
}

// WithFault sets the failure injected after the first step.
func WithFault(f Fault) Option {
	return func(o *Options) { o.Fault = f }
}

// Pipeline builds the five-step burger pipeline.
func Pipeline(opts ...Option) *pipeline.Pipeline {
	o := Options{StepDelay: DefaultStepDelay, Fault: Never()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Fault == nil {
		o.Fault = Never()
	}

	wait := func(ctx context.Context, _ *job.Job, _ pipeline.Reporter) error {
		return pipeline.Sleep(ctx, o.StepDelay)
	}
	grill := func(ctx context.Context, j *job.Job, r pipeline.Reporter) error {
		if err := wait(ctx, j, r); err != nil {
			return err
		}
		if o.Fault.Trip(j.Attempt) {
			return ErrToastBurnt
		}
		return nil
	}

	return pipeline.New(
		pipeline.Step{Name: "grill", Log: []string{"Grill the patty."}, Progress: 20, Run: grill},
		pipeline.Step{Name: "toast", Log: []string{"Toast the buns."}, Progress: 40, Run: wait},
		pipeline.Step{Name: "toppings", Log: []string{"Add toppings."}, Progress: 60, Run: wait},
		pipeline.Step{Name: "layers", Log: []string{"", "Assemble layers."}, Progress: 80, Run: wait},
		pipeline.Step{Name: "finish", Log: []string{"Burger ready."}, Progress: 100},
	)
}

// DemoMaxAttempts is the attempt limit of every demonstration job.
const DemoMaxAttempts = 3

// DemoJob describes one job of the demonstration batch.
type DemoJob struct {
	ID          string
	Payload     Burger
	MaxAttempts int
}

// DemoBatch returns n demonstration jobs with ids Burger#1..Burger#n.
func DemoBatch(n int) []DemoJob {
	out := make([]DemoJob, n)
	for i := range out {
		out[i] = DemoJob{
			ID:          fmt.Sprintf("Burger#%d", i+1),
			Payload:     DefaultBurger(),
			MaxAttempts: DemoMaxAttempts,
		}
	}
	return out
}

// Options returns the enqueue options for d.
func (d DemoJob) Options() []job.Option {
	return []job.Option{
		job.WithID(d.ID),
		job.WithName("burger"),
		job.WithMaxAttempts(d.MaxAttempts),
	}
}

// Enqueuer accepts new jobs. *engine.Engine satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...job.Option) (*job.Job, error)
}

// Seed enqueues the demonstration batch of n jobs and returns the ids it
// added. Ids that are already tracked are skipped, so seeding twice does
// not fail.
func Seed(ctx context.Context, e Enqueuer, n int) ([]string, error) {
	var added []string
	for _, d := range DemoBatch(n) {
		if _, err := e.Enqueue(ctx, d.Payload, d.Options()...); err != nil {
			if errors.Is(err, lineup.ErrDuplicateJob) {
				continue
			}
			return added, fmt.Errorf("seed %s: %w", d.ID, err)
		}
		added = append(added, d.ID)
	}
	return added, nil
}
