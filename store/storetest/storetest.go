// Package storetest holds the behaviour every job.Store backend shares.
// Backends call [Run] from their own tests with a factory for empty stores.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/retry"
)

// Epoch is the enqueue and dequeue time used throughout the suite.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Stamp is what the factory's clock returns. State changes other than
// activation must carry it.
var Stamp = Epoch.Add(time.Hour)

// Factory returns an empty store that stamps state changes with now.
type Factory func(t *testing.T, now func() time.Time) job.Store

// Run exercises the job.Store contract. Every subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s job.Store)
	}{
		{"EnqueueDuplicate", testEnqueueDuplicate},
		{"DequeueFIFO", testDequeueFIFO},
		{"DequeueActivates", testDequeueActivates},
		{"DequeueSkipsIneligible", testDequeueSkipsIneligible},
		{"RequeueTail", func(t *testing.T, s job.Store) { testRequeue(t, s, retry.Tail, []string{"b", "c", "a"}) }},
		{"RequeueHead", func(t *testing.T, s job.Store) { testRequeue(t, s, retry.Head, []string{"a", "b", "c"}) }},
		{"StaleAttempt", testStaleAttempt},
		{"CompleteAndFail", testCompleteAndFail},
		{"ProgressAndLogs", testProgressAndLogs},
		{"GetJobNotFound", testGetJobNotFound},
		{"ListJobs", testListJobs},
		{"DeleteJob", testDeleteJob},
		{"DeleteFinishedBefore", testDeleteFinishedBefore},
		{"ReadsSeeWholeMutations", testReadsSeeWholeMutations},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t, func() time.Time { return Stamp }))
		})
	}
}

// NewJob returns a waiting job eligible at Epoch.
func NewJob(jobID string, maxAttempts int) *job.Job {
	return &job.Job{
		Entity:      lineup.Entity{CreatedAt: Epoch, UpdatedAt: Epoch},
		ID:          jobID,
		Name:        "burger",
		State:       job.StateWaiting,
		MaxAttempts: maxAttempts,
		RunAt:       Epoch,
	}
}

func enqueue(t *testing.T, s job.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}
}

func dequeue(t *testing.T, s job.Store) *job.Job {
	t.Helper()
	j, err := s.DequeueJob(context.Background(), Epoch)
	if err != nil {
		t.Fatalf("DequeueJob: %v", err)
	}
	if j == nil {
		t.Fatal("DequeueJob returned no job")
	}
	return j
}

func get(t *testing.T, s job.Store, jobID string) *job.Job {
	t.Helper()
	j, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", jobID, err)
	}
	return j
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func testEnqueueDuplicate(t *testing.T, s job.Store) {
	ctx := context.Background()
	original := NewJob("Burger#1", 3)
	original.Payload = []byte(`{"n":1}`)
	enqueue(t, s, original)

	second := NewJob("Burger#1", 5)
	second.Payload = []byte(`{"n":2}`)
	if err := s.EnqueueJob(ctx, second); !errors.Is(err, lineup.ErrDuplicateJob) {
		t.Fatalf("duplicate enqueue = %v, want ErrDuplicateJob", err)
	}

	got := get(t, s, "Burger#1")
	if got.MaxAttempts != 3 || string(got.Payload) != `{"n":1}` {
		t.Fatalf("original job changed: %+v", got)
	}
	stats, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Waiting != 1 || stats.Total() != 1 {
		t.Fatalf("stats = %+v, want one waiting job", stats)
	}
}

func testDequeueFIFO(t *testing.T, s job.Store) {
	want := []string{"j0", "j1", "j2", "j3", "j4"}
	for _, jobID := range want {
		enqueue(t, s, NewJob(jobID, 1))
	}

	var got []string
	for range want {
		got = append(got, dequeue(t, s).ID)
	}
	if !slices.Equal(got, want) {
		t.Fatalf("dequeue order = %v, want %v", got, want)
	}

	j, err := s.DequeueJob(context.Background(), Epoch)
	if err != nil || j != nil {
		t.Fatalf("empty dequeue = %v, %v; want nil, nil", j, err)
	}
}

func testDequeueActivates(t *testing.T, s job.Store) {
	enqueue(t, s, NewJob("Burger#1", 3))
	j := dequeue(t, s)

	for _, got := range []*job.Job{j, get(t, s, "Burger#1")} {
		if got.State != job.StateActive || got.Attempt != 1 || got.Progress != 0 {
			t.Fatalf("activated job = state %s attempt %d progress %d", got.State, got.Attempt, got.Progress)
		}
		if got.StartedAt == nil || !got.StartedAt.Equal(Epoch) {
			t.Fatalf("StartedAt = %v, want %v", got.StartedAt, Epoch)
		}
		if len(got.Logs) != 1 || !got.Logs[0].Marker || got.Logs[0].Line != "--- attempt 1/3 ---" {
			t.Fatalf("logs = %+v, want the attempt marker", got.Logs)
		}
	}
}

func testDequeueSkipsIneligible(t *testing.T, s job.Store) {
	ctx := context.Background()
	later := NewJob("later", 1)
	later.RunAt = Epoch.Add(time.Minute)
	enqueue(t, s, later, NewJob("now", 1))

	if ok, err := s.HasEligible(ctx, Epoch); err != nil || !ok {
		t.Fatalf("HasEligible = %v, %v; want true", ok, err)
	}
	if got := dequeue(t, s); got.ID != "now" {
		t.Fatalf("dequeued %s, want now", got.ID)
	}
	if ok, err := s.HasEligible(ctx, Epoch); err != nil || ok {
		t.Fatalf("HasEligible = %v, %v; want false", ok, err)
	}
	if j, err := s.DequeueJob(ctx, Epoch); err != nil || j != nil {
		t.Fatalf("dequeue before RunAt = %v, %v; want nil, nil", j, err)
	}

	j, err := s.DequeueJob(ctx, later.RunAt)
	if err != nil || j == nil || j.ID != "later" {
		t.Fatalf("dequeue at RunAt = %v, %v; want later", j, err)
	}
}

func testRequeue(t *testing.T, s job.Store, pos retry.Position, want []string) {
	enqueue(t, s, NewJob("a", 3), NewJob("b", 3), NewJob("c", 3))
	a := dequeue(t, s)

	got, err := s.RequeueJob(context.Background(), "a", a.Attempt, "step grill: Toast burnt!", Epoch, pos)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if got.State != job.StateWaiting || got.LastError != "step grill: Toast burnt!" {
		t.Fatalf("requeued = state %s error %q", got.State, got.LastError)
	}
	if !got.UpdatedAt.Equal(Stamp) {
		t.Fatalf("UpdatedAt = %v, want store clock %v", got.UpdatedAt, Stamp)
	}

	var order []string
	for range want {
		order = append(order, dequeue(t, s).ID)
	}
	if !slices.Equal(order, want) {
		t.Fatalf("order after %s requeue = %v, want %v", pos, order, want)
	}
}

func testStaleAttempt(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("Burger#1", 3))
	j := dequeue(t, s)
	stale := j.Attempt + 1

	if _, err := s.CompleteJob(ctx, j.ID, stale); !errors.Is(err, lineup.ErrStaleAttempt) {
		t.Errorf("CompleteJob(stale) = %v, want ErrStaleAttempt", err)
	}
	if _, err := s.UpdateProgress(ctx, j.ID, stale, 50); !errors.Is(err, lineup.ErrStaleAttempt) {
		t.Errorf("UpdateProgress(stale) = %v, want ErrStaleAttempt", err)
	}
	if err := s.AppendLog(ctx, j.ID, stale, "Grilling"); !errors.Is(err, lineup.ErrStaleAttempt) {
		t.Errorf("AppendLog(stale) = %v, want ErrStaleAttempt", err)
	}

	if _, err := s.FailJob(ctx, j.ID, j.Attempt, "Toast burnt!"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if _, err := s.CompleteJob(ctx, j.ID, j.Attempt); !errors.Is(err, lineup.ErrStaleAttempt) {
		t.Errorf("CompleteJob after fail = %v, want ErrStaleAttempt", err)
	}
	if got := get(t, s, j.ID); got.State != job.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
}

func testCompleteAndFail(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("done", 1), NewJob("burnt", 1))
	done, burnt := dequeue(t, s), dequeue(t, s)

	if _, err := s.CompleteJob(ctx, done.ID, done.Attempt); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if _, err := s.FailJob(ctx, burnt.ID, burnt.Attempt, "step grill: Toast burnt!"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	got := get(t, s, "done")
	if got.State != job.StateCompleted || got.FinishedAt == nil || !got.FinishedAt.Equal(Stamp) {
		t.Errorf("completed = state %s finished %v, want completed at %v", got.State, got.FinishedAt, Stamp)
	}
	got = get(t, s, "burnt")
	if got.State != job.StateFailed || got.LastError != "step grill: Toast burnt!" {
		t.Errorf("failed = state %s error %q", got.State, got.LastError)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(Stamp) {
		t.Errorf("FinishedAt = %v, want %v", got.FinishedAt, Stamp)
	}

	stats, err := s.CountJobs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.Failed != 1 || stats.Total() != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func testProgressAndLogs(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("Burger#1", 2))
	j := dequeue(t, s)

	steps := []struct {
		pct     int
		changed bool
	}{{40, true}, {20, false}, {40, false}, {150, true}}
	for _, st := range steps {
		changed, err := s.UpdateProgress(ctx, j.ID, j.Attempt, st.pct)
		if err != nil {
			t.Fatalf("UpdateProgress(%d): %v", st.pct, err)
		}
		if changed != st.changed {
			t.Errorf("UpdateProgress(%d) changed = %v, want %v", st.pct, changed, st.changed)
		}
	}
	if err := s.AppendLog(ctx, j.ID, j.Attempt, "Grilling burger"); err != nil {
		t.Fatal(err)
	}

	got := get(t, s, j.ID)
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if lines := got.AttemptLogs(1); !slices.Equal(lines, []string{"Grilling burger"}) {
		t.Errorf("attempt 1 logs = %v", lines)
	}

	if _, err := s.RequeueJob(ctx, j.ID, j.Attempt, "retry", Epoch, retry.Tail); err != nil {
		t.Fatal(err)
	}
	second := dequeue(t, s)
	if second.Attempt != 2 || second.Progress != 0 {
		t.Errorf("second attempt = %d progress %d, want 2 and 0", second.Attempt, second.Progress)
	}
	if lines := second.AttemptLogs(1); !slices.Equal(lines, []string{"Grilling burger"}) {
		t.Errorf("attempt 1 logs lost after retry: %v", lines)
	}
}

func testGetJobNotFound(t *testing.T, s job.Store) {
	if _, err := s.GetJob(context.Background(), "missing"); !errors.Is(err, lineup.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testListJobs(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("a", 1), NewJob("b", 1), NewJob("c", 1))
	a := dequeue(t, s)
	if _, err := s.CompleteJob(ctx, a.ID, a.Attempt); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts job.ListOpts
		want []string
	}{
		{"all", job.ListOpts{}, []string{"a", "b", "c"}},
		{"waiting", job.ListOpts{State: job.StateWaiting}, []string{"b", "c"}},
		{"completed", job.ListOpts{State: job.StateCompleted}, []string{"a"}},
		{"page", job.ListOpts{Limit: 1, Offset: 1}, []string{"b"}},
		{"past end", job.ListOpts{Offset: 5}, []string{}},
	}
	for _, tt := range tests {
		jobs, err := s.ListJobs(ctx, tt.opts)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got := ids(jobs); !slices.Equal(got, tt.want) {
			t.Errorf("%s: ids = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func testDeleteJob(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("Burger#1", 1))

	if err := s.DeleteJob(ctx, "Burger#1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if ok, err := s.HasEligible(ctx, Epoch); err != nil || ok {
		t.Errorf("deleted job still eligible: %v, %v", ok, err)
	}
	if err := s.DeleteJob(ctx, "Burger#1"); !errors.Is(err, lineup.ErrJobNotFound) {
		t.Errorf("second DeleteJob = %v, want ErrJobNotFound", err)
	}
	// The id is free again.
	enqueue(t, s, NewJob("Burger#1", 1))
}

func testDeleteFinishedBefore(t *testing.T, s job.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("done", 1), NewJob("waiting", 1))
	done := dequeue(t, s)
	if _, err := s.CompleteJob(ctx, done.ID, done.Attempt); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteFinishedBefore(ctx, Stamp)
	if err != nil || n != 0 {
		t.Fatalf("cutoff at FinishedAt removed %d, %v; want 0", n, err)
	}
	n, err = s.DeleteFinishedBefore(ctx, Stamp.Add(time.Second))
	if err != nil || n != 1 {
		t.Fatalf("cutoff after FinishedAt removed %d, %v; want 1", n, err)
	}
	if _, err := s.GetJob(ctx, "done"); !errors.Is(err, lineup.ErrJobNotFound) {
		t.Errorf("removed job still readable: %v", err)
	}
	if got := get(t, s, "waiting"); got.State != job.StateWaiting {
		t.Errorf("waiting job state = %s", got.State)
	}
}

// testReadsSeeWholeMutations reads a job while another goroutine cycles it
// through attempts. Activation bumps Attempt and appends the attempt marker
// in one write, so every read must show a marker for exactly its Attempt.
func testReadsSeeWholeMutations(t *testing.T, s job.Store) {
	const attempts = 60
	ctx := context.Background()
	enqueue(t, s, NewJob("Burger#1", attempts))

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for range attempts - 1 {
			j, err := s.DequeueJob(ctx, Epoch)
			if err != nil || j == nil {
				t.Errorf("DequeueJob = %v, %v", j, err)
				return
			}
			if _, err := s.RequeueJob(ctx, j.ID, j.Attempt, "retry", Epoch, retry.Tail); err != nil {
				t.Errorf("RequeueJob: %v", err)
				return
			}
		}
	}()

	var torn error
	for torn == nil {
		select {
		case <-done:
			wg.Wait()
			return
		default:
		}
		j, err := s.GetJob(ctx, "Burger#1")
		if err != nil {
			torn = err
			break
		}
		last := 0
		for _, e := range j.Logs {
			if e.Marker {
				last = e.Attempt
			}
		}
		if last != j.Attempt {
			torn = fmt.Errorf("read attempt %d with logs up to attempt %d", j.Attempt, last)
		}
	}
	wg.Wait()
	t.Fatal(torn)
}
