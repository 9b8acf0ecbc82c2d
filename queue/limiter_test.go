package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestLimiter_OnePerWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Max: 1, Window: time.Second}, WithClock(clock.Now))

	if !l.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	l.Release()

	if l.TryAcquire() {
		t.Fatal("second TryAcquire in the same window should fail")
	}

	clock.Advance(999 * time.Millisecond)
	if l.TryAcquire() {
		t.Fatal("TryAcquire at 999ms should fail")
	}

	clock.Advance(time.Millisecond)
	if !l.TryAcquire() {
		t.Fatal("TryAcquire at 1000ms should succeed")
	}
	l.Release()
}

func TestLimiter_DelayReportsTimeToNextPermit(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Max: 1, Window: time.Second}, WithClock(clock.Now))

	if d := l.Delay(); d != 0 {
		t.Fatalf("Delay before any grant = %v, want 0", d)
	}
	l.TryAcquire()
	l.Release()

	clock.Advance(250 * time.Millisecond)
	d := l.Delay()
	if d < 740*time.Millisecond || d > 760*time.Millisecond {
		t.Fatalf("Delay = %v, want ~750ms", d)
	}
}

func TestLimiter_NeverMoreThanMaxPerWindow(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7} {
		clock := newFakeClock()
		window := time.Second
		l := NewLimiter(Config{Max: max, Window: window}, WithClock(clock.Now))

		var grants []time.Time
		for range 5000 {
			if at, ok := l.Grant(); ok {
				grants = append(grants, at)
				l.Release()
			}
			clock.Advance(time.Millisecond)
		}
		if len(grants) < max {
			t.Fatalf("max=%d: only %d grants", max, len(grants))
		}
		// Any max+1 consecutive grants must span at least a full window.
		for i := max; i < len(grants); i++ {
			if span := grants[i].Sub(grants[i-max]); span < window {
				t.Fatalf("max=%d: grants %d..%d span %v, want >= %v", max, i-max, i, span, window)
			}
		}
	}
}

func TestLimiter_ConcurrentCallersShareTheWindow(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Max: 1, Window: time.Second}, WithClock(clock.Now))

	var granted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := granted.Load(); got != 1 {
		t.Fatalf("granted = %d, want exactly 1 under concurrent callers", got)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := NewLimiter(Config{})
	for i := range 100 {
		if !l.TryAcquire() {
			t.Fatalf("TryAcquire %d should succeed without limits", i)
		}
	}
	if l.Delay() != 0 {
		t.Fatal("Delay should be zero without a rate limit")
	}
}

// ---------------------------------------------------------------------------
// Concurrency limits
// ---------------------------------------------------------------------------

func TestLimiter_MaxConcurrency(t *testing.T) {
	l := NewLimiter(Config{MaxConcurrency: 2})

	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatal("first two TryAcquire calls should succeed")
	}
	if l.TryAcquire() {
		t.Fatal("third TryAcquire should fail (max concurrency 2)")
	}
	if l.Active() != 2 {
		t.Fatalf("Active = %d, want 2", l.Active())
	}

	l.Release()
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed after Release")
	}
}

func TestLimiter_ConcurrencyDenialDoesNotSpendRate(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(Config{Max: 1, Window: time.Second, MaxConcurrency: 1}, WithClock(clock.Now))

	if !l.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	clock.Advance(2 * time.Second)

	// Slot still held: denied by concurrency, token untouched.
	if l.TryAcquire() {
		t.Fatal("TryAcquire should fail while the slot is held")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed once the slot is free")
	}
}

func TestLimiter_ReleaseNeverGoesNegative(t *testing.T) {
	l := NewLimiter(Config{MaxConcurrency: 1})
	l.Release()
	l.Release()
	if l.Active() != 0 {
		t.Fatalf("Active = %d, want 0", l.Active())
	}
	if !l.TryAcquire() {
		t.Fatal("TryAcquire should succeed")
	}
	if l.TryAcquire() {
		t.Fatal("extra Release calls must not raise capacity")
	}
}
