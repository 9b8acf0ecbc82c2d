package job

import "time"

// Options configures a single enqueue.
type Options struct {
	// ID is the job id. Empty means one is generated.
	ID string

	// Name labels the kind of work. Defaults to "default".
	Name string

	// MaxAttempts bounds how many times the job runs. Zero means the
	// dispatcher's default.
	MaxAttempts int

	// Timeout bounds a single attempt. Zero means no limit.
	Timeout time.Duration

	// Delay postpones the first dispatch.
	Delay time.Duration
}

// DefaultName is the job name used when none is given.
const DefaultName = "default"

// Option is a functional option for an enqueue.
type Option func(*Options)

// WithID sets a caller-chosen job id.
func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

// WithName sets the job name.
func WithName(name string) Option {
	return func(o *Options) { o.Name = name }
}

// WithMaxAttempts sets the attempt limit for the job.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithTimeout bounds each attempt of the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithDelay postpones the first dispatch by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Name == "" {
		o.Name = DefaultName
	}
	return o
}
