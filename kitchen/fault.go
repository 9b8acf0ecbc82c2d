package kitchen

import (
	"math/rand/v2"
	"sync"
)

// Fault decides whether the given attempt fails at the injection point.
type Fault interface {
	Trip(attempt int) bool
}

// FaultFunc adapts a function to the Fault interface.
type FaultFunc func(attempt int) bool

// Trip calls f.
func (f FaultFunc) Trip(attempt int) bool { return f(attempt) }

// Never is a fault that never trips.
func Never() Fault { return FaultFunc(func(int) bool { return false }) }

// Always is a fault that trips on every attempt.
func Always() Fault { return FaultFunc(func(int) bool { return true }) }

// FailAttempts trips on attempts 1..n and lets later attempts through.
func FailAttempts(n int) Fault {
	return FaultFunc(func(attempt int) bool { return attempt <= n })
}

// DefaultFailureRate is the probability used by the demonstration batch.
const DefaultFailureRate = 0.75

type chance struct {
	mu  sync.Mutex
	p   float64
	rng *rand.Rand
}

// Chance trips with probability p using a source seeded with seed, so a
// given seed always produces the same sequence of outcomes.
func Chance(p float64, seed uint64) Fault {
	return &chance{p: p, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (c *chance) Trip(int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64() < c.p
}
