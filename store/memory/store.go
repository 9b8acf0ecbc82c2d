package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/retry"
)

// Ensure Store implements job.Store at compile time.
// We can't import store here (import cycle).
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. State lives for the lifetime of the process.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	// order holds every tracked id in enqueue order.
	order []string
	// waiting is the FIFO dispatch list of waiting job ids.
	waiting []string

	now    func() time.Time
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used to stamp state changes.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		jobs: make(map[string]*job.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ──────────────────────────────────────────────────
// Lifecycle: Ping / Close
// ──────────────────────────────────────────────────

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return lineup.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Tracked jobs stay readable.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// EnqueueJob persists a new waiting job at the tail of the waiting list.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return lineup.ErrStoreClosed
	}
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %s", lineup.ErrDuplicateJob, j.ID)
	}
	if j.State != job.StateWaiting {
		return fmt.Errorf("%w: enqueue job %s in state %s", lineup.ErrInvalidState, j.ID, j.State)
	}
	m.jobs[j.ID] = j.Clone()
	m.order = append(m.order, j.ID)
	m.waiting = append(m.waiting, j.ID)
	return nil
}

// HasEligible reports whether a waiting job is eligible at now.
func (m *Store) HasEligible(_ context.Context, now time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.firstEligible(now) >= 0, nil
}

// DequeueJob pops and activates the first waiting job eligible at now.
func (m *Store) DequeueJob(_ context.Context, now time.Time) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, lineup.ErrStoreClosed
	}
	i := m.firstEligible(now)
	if i < 0 {
		return nil, nil
	}
	j := m.jobs[m.waiting[i]]
	if err := j.Activate(now); err != nil {
		return nil, err
	}
	m.waiting = slices.Delete(m.waiting, i, i+1)
	return j.Clone(), nil
}

func (m *Store) firstEligible(now time.Time) int {
	for i, jobID := range m.waiting {
		if m.jobs[jobID].Eligible(now) {
			return i
		}
	}
	return -1
}

// RequeueJob sends the given attempt back to the waiting list at pos.
func (m *Store) RequeueJob(_ context.Context, jobID string, attempt int, cause string, runAt time.Time, pos retry.Position) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if err := j.Requeue(attempt, cause, runAt, m.now()); err != nil {
		return nil, err
	}
	if pos == retry.Head {
		m.waiting = slices.Insert(m.waiting, 0, jobID)
	} else {
		m.waiting = append(m.waiting, jobID)
	}
	return j.Clone(), nil
}

// CompleteJob resolves the given attempt as completed.
func (m *Store) CompleteJob(_ context.Context, jobID string, attempt int) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if err := j.Complete(attempt, m.now()); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// FailJob resolves the given attempt as failed.
func (m *Store) FailJob(_ context.Context, jobID string, attempt int, cause string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	if err := j.Fail(attempt, cause, m.now()); err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// UpdateProgress records progress for the given attempt.
func (m *Store) UpdateProgress(_ context.Context, jobID string, attempt, pct int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return false, err
	}
	return j.SetProgress(attempt, pct, m.now())
}

// AppendLog records a log line for the given attempt.
func (m *Store) AppendLog(_ context.Context, jobID string, attempt int, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return err
	}
	return j.AppendLog(attempt, line, m.now())
}

// GetJob retrieves a copy of a job by id.
func (m *Store) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, err := m.lookup(jobID)
	if err != nil {
		return nil, err
	}
	return j.Clone(), nil
}

// ListJobs returns copies of the jobs matching opts in enqueue order.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.order))
	skipped := 0
	for _, jobID := range m.order {
		j := m.jobs[jobID]
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		result = append(result, j.Clone())
		if opts.Limit > 0 && len(result) >= opts.Limit {
			break
		}
	}
	return result, nil
}

// CountJobs returns per-state counts.
func (m *Store) CountJobs(_ context.Context) (job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s job.Stats
	for _, j := range m.jobs {
		s.Add(j.State)
	}
	return s, nil
}

// DeleteJob stops tracking a job.
func (m *Store) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(jobID); err != nil {
		return err
	}
	m.remove(jobID)
	return nil
}

// DeleteFinishedBefore stops tracking terminal jobs that finished before
// cutoff.
func (m *Store) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var victims []string
	for _, jobID := range m.order {
		j := m.jobs[jobID]
		if j.State.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			victims = append(victims, jobID)
		}
	}
	for _, jobID := range victims {
		m.remove(jobID)
	}
	return int64(len(victims)), nil
}

// lookup must be called with mu held.
func (m *Store) lookup(jobID string) (*job.Job, error) {
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lineup.ErrJobNotFound, jobID)
	}
	return j, nil
}

// remove must be called with mu held.
func (m *Store) remove(jobID string) {
	delete(m.jobs, jobID)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == jobID })
	m.waiting = slices.DeleteFunc(m.waiting, func(s string) bool { return s == jobID })
}
