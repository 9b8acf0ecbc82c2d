package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/queue"
)

// Pool manages the dispatch loops that drain the waiting list. Each loop
// waits for the limiter, pops the next eligible job and runs it through
// the Executor.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	limiter      *queue.Limiter
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger
	now          func() time.Time

	wake chan struct{}

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of dispatch loops.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long an idle loop sleeps when nothing wakes it.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithPoolClock replaces time.Now for eligibility checks.
func WithPoolClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	limiter *queue.Limiter,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		limiter:      limiter,
		concurrency:  1,
		pollInterval: time.Second,
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.wake = make(chan struct{}, p.concurrency)
	return p
}

// Notify wakes idle dispatch loops. Enqueue and requeue call it so a new
// job does not wait out a full poll interval. It never blocks.
func (p *Pool) Notify() {
	for range p.concurrency {
		select {
		case p.wake <- struct{}{}:
		default:
			return
		}
	}
}

// Start launches the dispatch loops. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dispatchLoop()
	}
	return nil
}

// Stop signals all loops to stop and waits for in-flight attempts to
// finish. If ctx expires first, active attempts are cancelled; they resolve
// as ordinary failures.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// DrainOnce runs eligible jobs in the calling goroutine until none is
// eligible or the limiter denies a start. It returns how many attempts ran.
func (p *Pool) DrainOnce(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ran, _ := p.step(ctx)
		if !ran {
			return n, nil
		}
		n++
	}
}

// dispatchLoop is run by each dispatch goroutine.
func (p *Pool) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ran, wait := p.step(context.Background())
		if !ran {
			p.sleep(wait)
		}
	}
}

// step tries to start and run one attempt. When nothing ran it returns how
// long the caller should wait before trying again.
func (p *Pool) step(ctx context.Context) (bool, time.Duration) {
	ok, err := p.store.HasEligible(ctx, p.now())
	if err != nil {
		p.logger.Error("eligibility check error", slog.String("error", err.Error()))
		return false, p.pollInterval
	}
	if !ok {
		return false, p.pollInterval
	}

	grantedAt, ok := p.limiter.Grant()
	if !ok {
		wait := p.limiter.Delay()
		if wait <= 0 {
			wait = p.pollInterval
		}
		return false, wait
	}

	j, err := p.store.DequeueJob(ctx, grantedAt)
	if err != nil {
		p.limiter.Release()
		p.logger.Error("dequeue error", slog.String("error", err.Error()))
		return false, p.pollInterval
	}
	if j == nil {
		// Another loop took it.
		p.limiter.Release()
		return false, p.pollInterval
	}

	p.run(ctx, j)
	return true, 0
}

// run executes one activated attempt and returns its limiter slot.
func (p *Pool) run(ctx context.Context, j *job.Job) {
	defer func() {
		p.limiter.Release()
		p.Notify()
	}()

	p.extensions.EmitJobActivated(ctx, j)

	ctx, cancel := context.WithCancel(ctx)
	p.trackJob(j.ID, cancel)
	defer func() {
		p.untrackJob(j.ID)
		cancel()
	}()

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job attempt failed",
			slog.String("job_id", j.ID),
			slog.String("job_name", j.Name),
			slog.Int("attempt", j.Attempt),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.wake:
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
