package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/lineup/middleware"
)

// attempts covers one clean attempt, a retryable step failure and a panic
// on the last attempt.
var attempts = []struct {
	name    string
	attempt int
	err     error
	outcome string
	step    string
}{
	{"ok", 1, nil, "ok", ""},
	{"step failure", 2, errBurnt, "failed", "toast"},
	{"final panic", 3, &middleware.PanicError{JobID: "Burger#7", Value: "oops"}, "panic", ""},
}

func attr(set attribute.Set, key string) attribute.Value {
	v, _ := set.Value(attribute.Key(key))
	return v
}

func TestTracing(t *testing.T) {
	for _, tt := range attempts {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

			err := middleware.TracingWithTracer(tracer)(context.Background(), burger(tt.attempt), func(context.Context) error {
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("err = %v", err)
			}

			spans := rec.Ended()
			if len(spans) != 1 || spans[0].Name() != "lineup.attempt" {
				t.Fatalf("spans = %v", spans)
			}
			span := spans[0]
			set := attribute.NewSet(span.Attributes()...)

			if got := attr(set, "lineup.job.id").AsString(); got != "Burger#7" {
				t.Errorf("job id = %q", got)
			}
			if got := attr(set, "lineup.job.attempt").AsInt64(); got != int64(tt.attempt) {
				t.Errorf("attempt = %d", got)
			}
			if got := attr(set, "lineup.job.final_attempt").AsBool(); got != (tt.attempt == 3) {
				t.Errorf("final_attempt = %v", got)
			}
			if got := attr(set, "lineup.attempt.outcome").AsString(); got != tt.outcome {
				t.Errorf("outcome = %q, want %q", got, tt.outcome)
			}
			if got := attr(set, "lineup.step").AsString(); got != tt.step {
				t.Errorf("step = %q, want %q", got, tt.step)
			}

			wantCode := codes.Ok
			if tt.err != nil {
				wantCode = codes.Error
				if len(span.Events()) == 0 {
					t.Error("error not recorded on span")
				}
			}
			if span.Status().Code != wantCode {
				t.Errorf("status = %v, want %v", span.Status().Code, wantCode)
			}
		})
	}
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetrics(t *testing.T) {
	for _, tt := range attempts {
		t.Run(tt.name, func(t *testing.T) {
			reader := sdkmetric.NewManualReader()
			meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

			_ = middleware.MetricsWithMeter(meter)(context.Background(), burger(tt.attempt), func(context.Context) error {
				return tt.err
			})
			got := collect(t, reader)

			count, ok := got["lineup.attempt.count"].(metricdata.Sum[int64])
			if !ok || len(count.DataPoints) != 1 {
				t.Fatalf("lineup.attempt.count = %#v", got["lineup.attempt.count"])
			}
			dp := count.DataPoints[0]
			if dp.Value != 1 {
				t.Errorf("count = %d, want 1", dp.Value)
			}
			if o := attr(dp.Attributes, "outcome").AsString(); o != tt.outcome {
				t.Errorf("outcome = %q, want %q", o, tt.outcome)
			}
			if f := attr(dp.Attributes, "final").AsBool(); f != (tt.attempt == 3) {
				t.Errorf("final = %v", f)
			}
			if n := attr(dp.Attributes, "job_name").AsString(); n != "burger" {
				t.Errorf("job_name = %q", n)
			}

			hist, ok := got["lineup.attempt.duration"].(metricdata.Histogram[float64])
			if !ok || len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
				t.Errorf("lineup.attempt.duration = %#v", got["lineup.attempt.duration"])
			}

			steps, recorded := got["lineup.step.failures"].(metricdata.Sum[int64])
			if tt.step == "" {
				if recorded && len(steps.DataPoints) > 0 {
					t.Errorf("step failure recorded for %s", tt.name)
				}
				return
			}
			if !recorded || len(steps.DataPoints) != 1 {
				t.Fatalf("lineup.step.failures = %#v", got["lineup.step.failures"])
			}
			if s := attr(steps.DataPoints[0].Attributes, "step").AsString(); s != tt.step {
				t.Errorf("step = %q, want %q", s, tt.step)
			}
		})
	}
}

func TestMetrics_GlobalProviderIsNoop(t *testing.T) {
	ran := false
	err := middleware.Metrics()(context.Background(), burger(1), func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Errorf("err = %v ran = %v", err, ran)
	}
}
