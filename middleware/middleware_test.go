package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/xraph/lineup/job"
	"github.com/xraph/lineup/middleware"
	"github.com/xraph/lineup/pipeline"
)

func burger(attempt int) *job.Job {
	return &job.Job{
		ID:          "Burger#7",
		Name:        "burger",
		State:       job.StateActive,
		Attempt:     attempt,
		MaxAttempts: 3,
	}
}

var errBurnt = &pipeline.StepError{Step: "toast", Index: 2, Err: errors.New("Toast burnt!")}

func TestChain(t *testing.T) {
	var trace []string
	tag := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			trace = append(trace, name+">")
			err := next(ctx)
			trace = append(trace, "<"+name)
			return err
		}
	}

	err := middleware.Chain(tag("a"), tag("b"))(context.Background(), burger(1), func(context.Context) error {
		trace = append(trace, "run")
		return errBurnt
	})
	if !errors.Is(err, errBurnt) {
		t.Errorf("err = %v, want the handler's error", err)
	}
	want := []string{"a>", "b>", "run", "<b", "<a"}
	if !slices.Equal(trace, want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestChain_Empty(t *testing.T) {
	ran := false
	err := middleware.Chain()(context.Background(), burger(1), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("err = %v ran = %v", err, ran)
	}
}

type ctxKey struct{}

func TestChain_PassesContextInward(t *testing.T) {
	inject := func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
		return next(context.WithValue(ctx, ctxKey{}, "grill"))
	}
	var got any
	_ = middleware.Chain(inject, middleware.Chain())(context.Background(), burger(1), func(ctx context.Context) error {
		got = ctx.Value(ctxKey{})
		return nil
	})
	if got != "grill" {
		t.Errorf("handler saw %v, want value set by outer middleware", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want middleware.Outcome
	}{
		{nil, middleware.OutcomeOK},
		{errBurnt, middleware.OutcomeFailed},
		{fmt.Errorf("attempt: %w", context.DeadlineExceeded), middleware.OutcomeTimeout},
		{&pipeline.StepError{Step: "bun", Err: context.Canceled}, middleware.OutcomeCanceled},
		{&middleware.PanicError{JobID: "Burger#7", Value: "oops"}, middleware.OutcomePanic},
	}
	for _, tt := range tests {
		if got := middleware.Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFailedStep(t *testing.T) {
	if got := middleware.FailedStep(fmt.Errorf("wrapped: %w", errBurnt)); got != "toast" {
		t.Errorf("FailedStep = %q, want toast", got)
	}
	if got := middleware.FailedStep(errors.New("plain")); got != "" {
		t.Errorf("FailedStep(plain) = %q, want empty", got)
	}
}

func TestFinalAttempt(t *testing.T) {
	for attempt, want := range map[int]bool{1: false, 2: false, 3: true} {
		if got := middleware.FinalAttempt(burger(attempt)); got != want {
			t.Errorf("attempt %d: FinalAttempt = %v", attempt, got)
		}
	}
	if middleware.FinalAttempt(&job.Job{Attempt: 5}) {
		t.Error("job without a limit reported final")
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	rec := middleware.Recover(slog.New(slog.NewTextHandler(&buf, nil)))

	err := rec(context.Background(), burger(2), func(context.Context) error {
		panic("grill on fire")
	})
	var pe *middleware.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PanicError", err)
	}
	if pe.JobID != "Burger#7" || pe.Value != "grill on fire" || len(pe.Stack) == 0 {
		t.Errorf("PanicError = %+v", pe)
	}
	if err.Error() != "panic in job Burger#7: grill on fire" {
		t.Errorf("message = %q", err.Error())
	}
	if !strings.Contains(buf.String(), "processor panicked") {
		t.Errorf("panic not logged:\n%s", buf.String())
	}

	if err := rec(context.Background(), burger(1), func(context.Context) error { return nil }); err != nil {
		t.Errorf("clean attempt err = %v", err)
	}
}

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		attempt   int
		err       error
		wantLevel string
		wantStep  string
	}{
		{"success", 1, nil, "INFO", ""},
		{"retryable failure", 1, errBurnt, "INFO", "toast"},
		{"final failure", 3, errBurnt, "WARN", "toast"},
		{"timeout", 3, context.DeadlineExceeded, "WARN", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			err := middleware.Logging(logger)(context.Background(), burger(tt.attempt), func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v, want %v", err, tt.err)
			}

			var rec map[string]any
			if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
				t.Fatalf("want exactly one line at info level: %v\n%s", err, buf.String())
			}
			if rec["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", rec["level"], tt.wantLevel)
			}
			if rec["job_id"] != "Burger#7" || rec["attempt"] != float64(tt.attempt) {
				t.Errorf("record = %v", rec)
			}
			if rec["outcome"] != string(middleware.Classify(tt.err)) {
				t.Errorf("outcome = %v", rec["outcome"])
			}
			if step, _ := rec["step"].(string); step != tt.wantStep {
				t.Errorf("step = %q, want %q", step, tt.wantStep)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	tests := []struct {
		name     string
		job      time.Duration
		fallback time.Duration
		want     time.Duration
	}{
		{"job timeout", 50 * time.Millisecond, time.Hour, 50 * time.Millisecond},
		{"fallback", 0, 80 * time.Millisecond, 80 * time.Millisecond},
		{"unbounded", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := burger(1)
			j.Timeout = tt.job
			start := time.Now()
			_ = middleware.Timeout(tt.fallback)(context.Background(), j, func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				if tt.want == 0 {
					if ok {
						t.Error("unexpected deadline")
					}
					return nil
				}
				if !ok {
					t.Fatal("no deadline")
				}
				if d := deadline.Sub(start); d < tt.want || d > tt.want+time.Second {
					t.Errorf("deadline in %v, want about %v", d, tt.want)
				}
				return nil
			})
		})
	}
}

func TestTimeout_Expires(t *testing.T) {
	err := middleware.Timeout(10*time.Millisecond)(context.Background(), burger(1), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if middleware.Classify(err) != middleware.OutcomeTimeout {
		t.Errorf("err = %v, want a timeout", err)
	}
}
