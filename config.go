package lineup

import (
	"fmt"
	"time"

	"github.com/xraph/lineup/retry"
)

// Config holds configuration for the Dispatcher.
type Config struct {
	// Concurrency is the number of dispatch loops draining the queue.
	Concurrency int

	// MaxActive caps how many jobs may be active at once. Zero means the
	// cap equals Concurrency.
	MaxActive int

	// RateMax is the number of job activations allowed per RateWindow.
	// Zero disables rate limiting.
	RateMax int

	// RateWindow is the window RateMax applies to.
	RateWindow time.Duration

	// PollInterval is how long an idle dispatch loop sleeps before looking
	// for work again. Enqueues wake idle loops early.
	PollInterval time.Duration

	// DefaultMaxAttempts applies to jobs enqueued without an explicit limit.
	DefaultMaxAttempts int

	// RequeuePosition is where a retried job re-enters the waiting list.
	RequeuePosition retry.Position

	// AttemptTimeout bounds an attempt of a job that sets no Timeout of its
	// own. Zero leaves such attempts unbounded.
	AttemptTimeout time.Duration

	// ShutdownTimeout is the maximum time Stop waits for active jobs.
	ShutdownTimeout time.Duration

	// CleanupSchedule is a cron expression for evicting finished jobs.
	// Empty disables scheduled cleanup.
	CleanupSchedule string

	// CleanupAge is how long a finished job is kept before scheduled
	// cleanup evicts it.
	CleanupAge time.Duration
}

// DefaultConfig returns a Config with the base queue settings: one dispatch
// loop, one activation per second, three attempts per job, retries at the
// tail of the queue.
func DefaultConfig() Config {
	return Config{
		Concurrency:        1,
		RateMax:            1,
		RateWindow:         time.Second,
		PollInterval:       250 * time.Millisecond,
		DefaultMaxAttempts: 3,
		RequeuePosition:    retry.Tail,
		ShutdownTimeout:    30 * time.Second,
		CleanupAge:         time.Hour,
	}
}

// Validate reports whether the configuration can drive a dispatcher.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidOption, c.Concurrency)
	case c.MaxActive < 0:
		return fmt.Errorf("%w: max active must not be negative, got %d", ErrInvalidOption, c.MaxActive)
	case c.RateMax < 0:
		return fmt.Errorf("%w: rate max must not be negative, got %d", ErrInvalidOption, c.RateMax)
	case c.RateMax > 0 && c.RateWindow <= 0:
		return fmt.Errorf("%w: rate window must be positive when rate max is set", ErrInvalidOption)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidOption)
	case c.AttemptTimeout < 0:
		return fmt.Errorf("%w: attempt timeout must not be negative", ErrInvalidOption)
	case c.DefaultMaxAttempts < 1:
		return fmt.Errorf("%w: default max attempts must be at least 1, got %d", ErrInvalidOption, c.DefaultMaxAttempts)
	}
	return nil
}
