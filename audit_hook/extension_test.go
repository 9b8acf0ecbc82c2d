package audithook_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	ah "github.com/xraph/lineup/audit_hook"
	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (r *recorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) actions() []ah.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ah.Action, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Action
	}
	return out
}

func newExtension(rec ah.Recorder, opts ...ah.Option) *ah.Extension {
	opts = append([]ah.Option{
		ah.WithClock(func() time.Time { return now }),
		ah.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return ah.New(rec, opts...)
}

func burger() *job.Job {
	return &job.Job{ID: "Burger#1", Name: "burger", State: job.StateActive, Attempt: 2, MaxAttempts: 3, Progress: 20}
}

func TestExtension_Hooks(t *testing.T) {
	burnt := errors.New("step toast: Toast burnt!")
	tests := []struct {
		action   ah.Action
		fire     func(context.Context, *ah.Extension) error
		severity ah.Severity
		outcome  ah.Outcome
		reason   string
		meta     map[string]any
	}{
		{
			ah.ActionJobEnqueued,
			func(ctx context.Context, e *ah.Extension) error { return e.OnJobEnqueued(ctx, burger()) },
			ah.SeverityInfo, ah.OutcomeSuccess, "",
			map[string]any{"job_name": "burger"},
		},
		{
			ah.ActionJobActivated,
			func(ctx context.Context, e *ah.Extension) error { return e.OnJobActivated(ctx, burger()) },
			ah.SeverityInfo, ah.OutcomeSuccess, "",
			map[string]any{"job_name": "burger"},
		},
		{
			ah.ActionJobRetrying,
			func(ctx context.Context, e *ah.Extension) error {
				return e.OnJobRetrying(ctx, burger(), burnt, now.Add(time.Second))
			},
			ah.SeverityWarning, ah.OutcomeFailure, burnt.Error(),
			map[string]any{"job_name": "burger", "next_run_at": "2026-01-02T03:04:06Z"},
		},
		{
			ah.ActionJobCompleted,
			func(ctx context.Context, e *ah.Extension) error {
				return e.OnJobCompleted(ctx, burger(), 150*time.Millisecond)
			},
			ah.SeverityInfo, ah.OutcomeSuccess, "",
			map[string]any{"job_name": "burger", "elapsed_ms": int64(150)},
		},
		{
			ah.ActionJobFailed,
			func(ctx context.Context, e *ah.Extension) error { return e.OnJobFailed(ctx, burger(), burnt) },
			ah.SeverityCritical, ah.OutcomeFailure, burnt.Error(),
			map[string]any{"job_name": "burger", "progress": 20},
		},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			rec := &recorder{}
			if err := tt.fire(context.Background(), newExtension(rec)); err != nil {
				t.Fatal(err)
			}
			if len(rec.events) != 1 {
				t.Fatalf("recorded %d events", len(rec.events))
			}
			evt := rec.events[0]
			if evt.Action != tt.action || evt.Severity != tt.severity || evt.Outcome != tt.outcome {
				t.Errorf("event = %s/%s/%s", evt.Action, evt.Severity, evt.Outcome)
			}
			if evt.Category != ah.CategoryJob || evt.Resource != ah.ResourceJob || evt.ResourceID != "Burger#1" {
				t.Errorf("resource = %s %s %s", evt.Category, evt.Resource, evt.ResourceID)
			}
			if evt.Attempt != 2 || evt.MaxAttempts != 3 || !evt.At.Equal(now) {
				t.Errorf("attempt = %d/%d at %v", evt.Attempt, evt.MaxAttempts, evt.At)
			}
			if evt.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", evt.Reason, tt.reason)
			}
			if len(evt.Metadata) != len(tt.meta) {
				t.Errorf("Metadata = %v, want %v", evt.Metadata, tt.meta)
			}
			for k, v := range tt.meta {
				if evt.Metadata[k] != v {
					t.Errorf("Metadata[%s] = %v (%T), want %v", k, evt.Metadata[k], evt.Metadata[k], v)
				}
			}
		})
	}
}

func TestExtension_JobsRemoved(t *testing.T) {
	rec := &recorder{}
	if err := newExtension(rec).OnJobsRemoved(context.Background(), 4); err != nil {
		t.Fatal(err)
	}
	evt := rec.events[0]
	if evt.Category != ah.CategoryQueue || evt.Resource != ah.ResourceQueue || evt.ResourceID != "" {
		t.Errorf("resource = %s %s %q", evt.Category, evt.Resource, evt.ResourceID)
	}
	if evt.Metadata["count"] != int64(4) {
		t.Errorf("count = %v", evt.Metadata["count"])
	}
}

func TestExtension_WithActions(t *testing.T) {
	rec := &recorder{}
	e := newExtension(rec, ah.WithActions(ah.ActionJobCompleted, ah.ActionJobFailed))
	ctx := context.Background()
	j := burger()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobActivated(ctx, j)
	_ = e.OnJobRetrying(ctx, j, errors.New("x"), now)
	_ = e.OnJobCompleted(ctx, j, time.Second)
	_ = e.OnJobFailed(ctx, j, errors.New("x"))
	_ = e.OnJobsRemoved(ctx, 1)

	want := []ah.Action{ah.ActionJobCompleted, ah.ActionJobFailed}
	if got := rec.actions(); !slices.Equal(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestExtension_RecorderFailureIsLogged(t *testing.T) {
	failing := ah.RecorderFunc(func(context.Context, *ah.AuditEvent) error {
		return errors.New("backend down")
	})
	var buf bytes.Buffer
	e := ah.New(failing, ah.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	if err := e.OnJobFailed(context.Background(), burger(), errors.New("x")); err != nil {
		t.Errorf("hook returned %v, want nil", err)
	}
	for _, want := range []string{"audit event not recorded", "backend down", "Burger#1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log missing %q: %s", want, buf.String())
		}
	}
}

func TestExtension_ThroughRegistry(t *testing.T) {
	rec := &recorder{}
	reg := ext.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	reg.Register(newExtension(rec))

	ctx := context.Background()
	j := burger()
	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobProgress(ctx, j.ID, j.Attempt, 40)
	reg.EmitJobCompleted(ctx, j, time.Millisecond)

	want := []ah.Action{ah.ActionJobEnqueued, ah.ActionJobCompleted}
	if got := rec.actions(); !slices.Equal(got, want) {
		t.Errorf("actions = %v, want %v", got, want)
	}
}

func TestAllActions(t *testing.T) {
	all := ah.AllActions()
	if len(all) != 6 {
		t.Fatalf("AllActions() = %v", all)
	}
	all[0] = "mutated"
	if ah.AllActions()[0] != ah.ActionJobEnqueued {
		t.Error("AllActions returned shared backing array")
	}
}
