package lineup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/lineup/retry"
)

// Option configures a Dispatcher. New validates the final configuration, so
// options only record values.
type Option func(*Dispatcher) error

func configure(set func(*Config)) Option {
	return func(d *Dispatcher) error {
		set(&d.config)
		return nil
	}
}

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(c Config) Option {
	return configure(func(cfg *Config) { *cfg = c })
}

// WithConcurrency sets the number of dispatch loops.
func WithConcurrency(n int) Option {
	return configure(func(c *Config) { c.Concurrency = n })
}

// WithMaxActive caps the number of jobs active at once.
func WithMaxActive(n int) Option {
	return configure(func(c *Config) { c.MaxActive = n })
}

// WithRateLimit allows n activations per window. n == 0 turns the limiter
// off.
func WithRateLimit(n int, window time.Duration) Option {
	return configure(func(c *Config) {
		c.RateMax = n
		c.RateWindow = window
	})
}

// WithPollInterval sets how long an idle dispatch loop sleeps before
// re-checking the waiting list. Must be positive.
func WithPollInterval(interval time.Duration) Option {
	return configure(func(c *Config) { c.PollInterval = interval })
}

// WithMaxAttempts sets the attempt limit for jobs enqueued without one.
func WithMaxAttempts(n int) Option {
	return configure(func(c *Config) { c.DefaultMaxAttempts = n })
}

// WithRequeuePosition sets where a retried job re-enters the waiting list.
func WithRequeuePosition(p retry.Position) Option {
	return configure(func(c *Config) { c.RequeuePosition = p })
}

// WithAttemptTimeout bounds attempts of jobs that carry no Timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return configure(func(c *Config) { c.AttemptTimeout = d })
}

// WithShutdownTimeout bounds how long Stop waits for active attempts.
func WithShutdownTimeout(d time.Duration) Option {
	return configure(func(c *Config) { c.ShutdownTimeout = d })
}

// WithCleanup evicts finished jobs older than age on a cron schedule.
func WithCleanup(schedule string, age time.Duration) Option {
	return configure(func(c *Config) {
		c.CleanupSchedule = schedule
		c.CleanupAge = age
	})
}

// WithLogger sets the logger. A nil logger is rejected with ErrInvalidOption.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) error {
		if l == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidOption)
		}
		d.logger = l
		return nil
	}
}

// WithStore sets the backing store. engine.Build rejects stores that do not
// implement job.Store.
func WithStore(s Storer) Option {
	return func(d *Dispatcher) error {
		d.store = s
		return nil
	}
}
