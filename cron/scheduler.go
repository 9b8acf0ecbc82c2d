package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock replaces time.Now as the scheduler's time source.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler runs registered entries on a tick loop.
type Scheduler struct {
	logger       *slog.Logger
	tickInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
	parsed  map[string]cronlib.Schedule

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger:       logger,
		tickInterval: time.Second,
		now:          time.Now,
		entries:      make(map[string]*Entry),
		parsed:       make(map[string]cronlib.Schedule),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers task under name. The first run is the next schedule time
// after now. Re-adding a name replaces the entry.
func (s *Scheduler) Add(name, schedule string, task Task) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.parsed[name] = sched
	s.entries[name] = &Entry{
		Name:      name,
		Schedule:  schedule,
		NextRunAt: sched.Next(s.now()),
		task:      task,
	}

	s.logger.Info("cron registered",
		slog.String("name", name),
		slog.String("schedule", schedule),
		slog.Time("next_run_at", s.entries[name].NextRunAt),
	)
	return nil
}

// Entries returns a snapshot of the registered entries sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		cp := *e
		cp.task = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start launches the tick goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.tickLoop(s.stopCh)
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval),
		slog.Int("entries", len(s.entries)),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for the tick goroutine.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// tickLoop fires on each tick interval and runs due entries.
func (s *Scheduler) tickLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.RunDue(context.Background())
		}
	}
}

// RunDue runs every entry whose next run time has passed and returns how
// many ran. The tick loop calls it; tests call it directly with a fake
// clock.
func (s *Scheduler) RunDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.NextRunAt.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })
	for _, e := range due {
		s.fireEntry(ctx, e, now)
	}
	return len(due)
}

func (s *Scheduler) fireEntry(ctx context.Context, e *Entry, now time.Time) {
	err := e.task(ctx)

	s.mu.Lock()
	e.Runs++
	e.LastRunAt = &now
	e.LastError = ""
	if err != nil {
		e.LastError = err.Error()
	}
	e.NextRunAt = s.parsed[e.Name].Next(now)
	next := e.NextRunAt
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron task error",
			slog.String("cron_name", e.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("cron fired",
		slog.String("cron_name", e.Name),
		slog.Time("next_run_at", next),
	)
}
