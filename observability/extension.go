package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobActivated = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobsRemoved  = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for the latency histogram.
const meterName = "github.com/xraph/lineup/observability"

// MetricsExtension records queue-wide lifecycle metrics. Counters go through
// a go-utils MetricFactory and the enqueue-to-completion latency through the
// OTel metric API.
type MetricsExtension struct {
	JobEnqueued  gu.Counter
	JobActivated gu.Counter
	JobRetried   gu.Counter
	JobCompleted gu.Counter
	JobFailed    gu.Counter
	JobsRemoved  gu.Counter
	JobLatency   metric.Float64Histogram
}

// Option configures a MetricsExtension.
type Option func(*options)

type options struct {
	meter metric.Meter
}

// WithMeter records the latency histogram on meter instead of the global
// MeterProvider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension(opts ...Option) *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("lineup/observability"), opts...)
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
// Use gu.NewMetricsCollector for testing.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory, opts ...Option) *MetricsExtension {
	o := options{meter: otel.Meter(meterName)}
	for _, opt := range opts {
		opt(&o)
	}
	latency, _ := o.meter.Float64Histogram("lineup.job.latency", //nolint:errcheck // noop fallback guaranteed by OTel API contract
		metric.WithDescription("Time from enqueue to completion in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		JobEnqueued:  factory.Counter("lineup.job.enqueued"),
		JobActivated: factory.Counter("lineup.job.activated"),
		JobRetried:   factory.Counter("lineup.job.retried"),
		JobCompleted: factory.Counter("lineup.job.completed"),
		JobFailed:    factory.Counter("lineup.job.failed"),
		JobsRemoved:  factory.Counter("lineup.job.removed"),
		JobLatency:   latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	m.JobEnqueued.Inc()
	return nil
}

// OnJobActivated implements ext.JobActivated.
func (m *MetricsExtension) OnJobActivated(_ context.Context, _ *job.Job) error {
	m.JobActivated.Inc()
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, _ *job.Job, _ error, _ time.Time) error {
	m.JobRetried.Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Inc()
	if j.FinishedAt != nil && !j.CreatedAt.IsZero() {
		m.JobLatency.Record(ctx, j.FinishedAt.Sub(j.CreatedAt).Seconds(),
			metric.WithAttributes(attribute.String("job_name", j.Name)))
	}
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// ── Other hooks ─────────────────────────────────────

// OnJobsRemoved implements ext.JobsRemoved.
func (m *MetricsExtension) OnJobsRemoved(_ context.Context, count int64) error {
	for range count {
		m.JobsRemoved.Inc()
	}
	return nil
}
