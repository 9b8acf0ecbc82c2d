package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before a retried job becomes eligible again.
// Implementations must be safe for concurrent use.
type Backoff interface {
	// Delay returns how long to wait after failed attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// BackoffFunc adapts a plain function to Backoff.
type BackoffFunc func(attempt int) time.Duration

// Delay calls f.
func (f BackoffFunc) Delay(attempt int) time.Duration { return f(attempt) }

// Immediate requeues without delay.
type Immediate struct{}

// Delay always returns zero.
func (Immediate) Delay(int) time.Duration { return 0 }

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial * attempt, capped at Max when Max is set.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	return capped(l.Initial*time.Duration(attempt), l.Max)
}

// Exponential doubles the delay each attempt:
// Initial * 2^(attempt-1), capped at Max when Max is set.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e Exponential) Delay(attempt int) time.Duration {
	return capped(time.Duration(exponent(e.Initial, attempt)), e.Max)
}

// ExponentialWithJitter picks a random delay in
// [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns a random duration bounded by the exponential delay.
func (e ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := exponent(e.Initial, attempt)
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

func exponent(initial time.Duration, attempt int) float64 {
	if attempt < 1 {
		attempt = 1
	}
	return float64(initial) * math.Pow(2, float64(attempt-1))
}

func capped(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
