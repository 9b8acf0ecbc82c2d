// Package retry decides what happens to a job after a failed attempt: whether
// it goes back to the waiting list, how long it waits before it becomes
// eligible again, and where in the list it re-enters.
package retry

import "time"

// Position is where a retried job re-enters the waiting list.
type Position int

const (
	// Tail puts the retried job behind every job already waiting.
	Tail Position = iota
	// Head puts the retried job in front of every job already waiting.
	Head
)

func (p Position) String() string {
	switch p {
	case Tail:
		return "tail"
	case Head:
		return "head"
	default:
		return "unknown"
	}
}

// ParsePosition parses "tail" or "head".
func ParsePosition(s string) (Position, bool) {
	switch s {
	case "tail", "":
		return Tail, true
	case "head":
		return Head, true
	default:
		return Tail, false
	}
}

// DecideFunc reports whether a job that just failed attempt number attempt
// (1-indexed) out of maxAttempts should run again.
type DecideFunc func(attempt, maxAttempts int, err error) bool

// ShouldRetry is the base decision: retry while attempts remain, whatever
// the error was.
func ShouldRetry(attempt, maxAttempts int, _ error) bool {
	return attempt < maxAttempts
}

// Policy combines a retry decision with the delay before the retried job is
// eligible for dispatch.
type Policy struct {
	Decide  DecideFunc
	Backoff Backoff
}

// DefaultPolicy retries while attempts remain and requeues immediately.
func DefaultPolicy() Policy {
	return Policy{Decide: ShouldRetry, Backoff: Immediate{}}
}

// Next returns whether the job should be retried and, if so, how long to
// wait before it becomes eligible. A nil Decide or Backoff falls back to the
// defaults.
func (p Policy) Next(attempt, maxAttempts int, err error) (bool, time.Duration) {
	decide := p.Decide
	if decide == nil {
		decide = ShouldRetry
	}
	if !decide(attempt, maxAttempts, err) {
		return false, 0
	}
	if p.Backoff == nil {
		return true, 0
	}
	d := p.Backoff.Delay(attempt)
	if d < 0 {
		d = 0
	}
	return true, d
}
