package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the activation limits for a queue.
type Config struct {
	// Max is the number of activations allowed per Window. Zero disables
	// rate limiting.
	Max int

	// Window is the period Max applies to.
	Window time.Duration

	// MaxConcurrency limits how many jobs may be active at once. Zero
	// means no limit.
	MaxConcurrency int
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now as the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// Limiter grants permission to start jobs. It is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	limiter *rate.Limiter
	active  int
	now     func() time.Time
}

// NewLimiter creates a Limiter for the given configuration.
func NewLimiter(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if cfg.Max > 0 && cfg.Window > 0 {
		// Round the spacing up so Max grants never fit inside one Window.
		interval := (cfg.Window + time.Duration(cfg.Max) - 1) / time.Duration(cfg.Max)
		l.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return l
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config { return l.config }

// TryAcquire reports whether a job may start now. It never blocks. A true
// result takes an active slot that must be returned with Release.
func (l *Limiter) TryAcquire() bool {
	_, ok := l.Grant()
	return ok
}

// Grant is TryAcquire that also returns the instant the permit was granted,
// read under the limiter lock. Callers use it as the activation timestamp.
func (l *Limiter) Grant() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.config.MaxConcurrency > 0 && l.active >= l.config.MaxConcurrency {
		return time.Time{}, false
	}
	if l.limiter != nil && !l.limiter.AllowN(now, 1) {
		return time.Time{}, false
	}
	l.active++
	return now, true
}

// Release returns an active slot taken by TryAcquire or Grant.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// Delay returns how long until the rate limiter would grant a permit. It
// ignores the concurrency cap, which frees up on Release rather than with
// time.
func (l *Limiter) Delay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter == nil {
		return 0
	}
	tokens := l.limiter.TokensAt(l.now())
	if tokens >= 1 {
		return 0
	}
	missing := 1 - tokens
	return time.Duration(missing / float64(l.limiter.Limit()) * float64(time.Second))
}

// Active returns the number of slots currently held.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
