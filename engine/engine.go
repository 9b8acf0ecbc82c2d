package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/lineup"
	"github.com/xraph/lineup/cron"
	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/id"
	"github.com/xraph/lineup/job"
	mw "github.com/xraph/lineup/middleware"
	"github.com/xraph/lineup/observability"
	"github.com/xraph/lineup/pipeline"
	"github.com/xraph/lineup/queue"
	"github.com/xraph/lineup/retry"
	"github.com/xraph/lineup/stream"
	"github.com/xraph/lineup/worker"
)

// idlePollInterval is how often WaitIdle re-reads the queue counts.
const idlePollInterval = 10 * time.Millisecond

// cleanupEntry is the scheduler entry name for finished-job eviction.
const cleanupEntry = "cleanup"

// Engine wraps a Dispatcher with typed subsystem access.
// Use Build() to create one from a Dispatcher.
type Engine struct {
	d          *lineup.Dispatcher
	extensions *ext.Registry
	jobStore   job.Store
	processor  pipeline.Processor
	policy     retry.Policy
	backoff    retry.Backoff
	limiter    *queue.Limiter
	pool       *worker.Pool
	broker     *stream.Broker
	metrics    *observability.MetricsExtension
	scheduler  *cron.Scheduler
	mws        []mw.Middleware
	logger     *slog.Logger
	now        func() time.Time

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithProcessor sets the work every job runs. Required.
func WithProcessor(p pipeline.Processor) Option {
	return func(eng *Engine) {
		eng.processor = p
	}
}

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside the
// default stack, closest to the processor.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRetryPolicy replaces the retry policy. If not set,
// retry.DefaultPolicy() (retry while attempts remain, no delay) is used.
func WithRetryPolicy(p retry.Policy) Option {
	return func(eng *Engine) {
		eng.policy = p
	}
}

// WithBackoff sets the delay before a retried job becomes eligible. It
// overrides the Backoff of the retry policy.
func WithBackoff(b retry.Backoff) Option {
	return func(eng *Engine) {
		eng.backoff = b
	}
}

// WithClock replaces time.Now for the limiter, the pool and job
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(eng *Engine) {
		eng.now = now
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithMetricFactory sets where the lifecycle counters are registered.
// If not set, the extension keeps its own collector.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) {
		eng.metricFactory = f
	}
}

// Build creates an Engine from an existing Dispatcher.
// The Dispatcher's store must implement job.Store.
func Build(d *lineup.Dispatcher, opts ...Option) (*Engine, error) {
	logger := d.Logger()
	store := d.Store()

	if store == nil {
		return nil, lineup.ErrNoStore
	}

	// Type-assert the store to get the job.Store interface.
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("%w: store does not implement job.Store", lineup.ErrInvalidOption)
	}

	eng := &Engine{
		d:          d,
		extensions: ext.NewRegistry(logger),
		jobStore:   js,
		policy:     retry.DefaultPolicy(),
		logger:     logger,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.processor == nil {
		return nil, lineup.ErrNoProcessor
	}
	if eng.backoff != nil {
		eng.policy.Backoff = eng.backoff
	}

	config := d.Config()

	// Register the observability metrics extension.
	var obsOpts []observability.Option
	if eng.meterProvider != nil {
		obsOpts = append(obsOpts, observability.WithMeter(
			eng.meterProvider.Meter("github.com/xraph/lineup/observability")))
	}
	if eng.metricFactory != nil {
		eng.metrics = observability.NewMetricsExtensionWithFactory(eng.metricFactory, obsOpts...)
	} else {
		eng.metrics = observability.NewMetricsExtension(obsOpts...)
	}
	eng.extensions.Register(eng.metrics)

	// The broker fans lifecycle events out to stream subscribers.
	eng.broker = stream.NewBroker(logger, stream.WithBrokerClock(eng.now))
	eng.extensions.Register(eng.broker)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/lineup")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/lineup")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default stack, outermost first: recover, tracing, metrics, logging, timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(config.AttemptTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	maxActive := config.MaxActive
	if maxActive == 0 {
		maxActive = config.Concurrency
	}
	eng.limiter = queue.NewLimiter(queue.Config{
		Max:            config.RateMax,
		Window:         config.RateWindow,
		MaxConcurrency: maxActive,
	}, queue.WithClock(eng.now))

	// Create executor and pool.
	executor := worker.NewExecutor(eng.processor, eng.extensions, eng.jobStore, eng.policy, logger,
		worker.WithMiddleware(allMws...),
		worker.WithRequeuePosition(config.RequeuePosition),
		worker.WithExecutorClock(eng.now),
		worker.WithRequeueNotify(func() { eng.pool.Notify() }),
	)

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		eng.limiter,
		logger,
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPollInterval(config.PollInterval),
		worker.WithPoolClock(eng.now),
	)

	// Wire back into the Dispatcher.
	d.SetPool(eng.pool)
	d.SetExtensions(eng.extensions)

	// Scheduled cleanup of finished jobs.
	eng.scheduler = cron.NewScheduler(logger, cron.WithClock(eng.now))
	if config.CleanupSchedule != "" {
		age := config.CleanupAge
		err := eng.scheduler.Add(cleanupEntry, config.CleanupSchedule, func(ctx context.Context) error {
			_, err := eng.Cleanup(ctx, age)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", lineup.ErrInvalidOption, err)
		}
	}

	return eng, nil
}

// Enqueue marshals payload to JSON and enqueues a job.
func (eng *Engine) Enqueue(ctx context.Context, payload any, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return eng.EnqueueRaw(ctx, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload. The job starts
// waiting with attempt 0. An id that is already tracked is rejected with
// lineup.ErrDuplicateJob and the existing job is left untouched.
func (eng *Engine) EnqueueRaw(ctx context.Context, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := job.Apply(opts...)
	if o.MaxAttempts < 0 {
		return nil, fmt.Errorf("%w: max attempts must not be negative, got %d", lineup.ErrInvalidOption, o.MaxAttempts)
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = eng.d.Config().DefaultMaxAttempts
	}
	if o.ID == "" {
		o.ID = id.NewJobID()
	}

	j := &job.Job{
		Entity:      lineup.NewEntity(eng.now()),
		ID:          o.ID,
		Name:        o.Name,
		Payload:     payload,
		State:       job.StateWaiting,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
	}
	j.RunAt = j.CreatedAt.Add(o.Delay)

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	eng.pool.Notify()
	return j, nil
}

// Start begins job processing by starting the cleanup scheduler and the
// worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if len(eng.scheduler.Entries()) > 0 {
		if err := eng.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start cron scheduler: %w", err)
		}
	}
	return eng.d.Start(ctx)
}

// Stop gracefully shuts down the engine. Active attempts get the configured
// shutdown timeout to finish before they are cancelled.
func (eng *Engine) Stop(ctx context.Context) error {
	if err := eng.scheduler.Stop(ctx); err != nil {
		eng.logger.Error("cron scheduler stop error", slog.String("error", err.Error()))
	}

	if timeout := eng.d.Config().ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return eng.d.Stop(ctx)
}

// DrainOnce runs eligible jobs in the calling goroutine until none is
// eligible or the limiter denies a start. It returns how many attempts ran.
func (eng *Engine) DrainOnce(ctx context.Context) (int, error) {
	return eng.pool.DrainOnce(ctx)
}

// WaitIdle blocks until no job is waiting or active, or ctx is done.
func (eng *Engine) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		stats, err := eng.jobStore.CountJobs(ctx)
		if err != nil {
			return err
		}
		if stats.Waiting == 0 && stats.Active == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ──────────────────────────────────────────────────
// Observer operations
// ──────────────────────────────────────────────────

// ListJobs returns snapshots of the tracked jobs in enqueue order.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.jobStore.ListJobs(ctx, opts)
}

// GetJob returns a snapshot of one job, or lineup.ErrJobNotFound.
func (eng *Engine) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	return eng.jobStore.GetJob(ctx, jobID)
}

// Stats returns per-state job counts.
func (eng *Engine) Stats(ctx context.Context) (job.Stats, error) {
	return eng.jobStore.CountJobs(ctx)
}

// ──────────────────────────────────────────────────
// Removal
// ──────────────────────────────────────────────────

// Remove stops tracking a finished job. Waiting and active jobs cannot be
// removed.
func (eng *Engine) Remove(ctx context.Context, jobID string) error {
	j, err := eng.jobStore.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.State.Terminal() {
		return fmt.Errorf("%w: job %s is %s", lineup.ErrInvalidState, jobID, j.State)
	}
	if err := eng.jobStore.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	eng.extensions.EmitJobsRemoved(ctx, 1)
	return nil
}

// Cleanup stops tracking finished jobs that finished more than olderThan
// ago and returns how many were removed.
func (eng *Engine) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := eng.now().UTC().Add(-olderThan)
	n, err := eng.jobStore.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		eng.extensions.EmitJobsRemoved(ctx, n)
		eng.logger.Info("finished jobs removed",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Streaming
// ──────────────────────────────────────────────────

// Subscribe registers a stream subscriber on the given topics. With no
// topics it receives the firehose.
func (eng *Engine) Subscribe(subscriberID string, topics ...string) *stream.Subscriber {
	return eng.broker.Subscribe(subscriberID, topics...)
}

// Unsubscribe removes a stream subscriber and closes its channel.
func (eng *Engine) Unsubscribe(subscriberID string) {
	eng.broker.Unsubscribe(subscriberID)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Dispatcher returns the underlying Dispatcher.
func (eng *Engine) Dispatcher() *lineup.Dispatcher { return eng.d }

// Broker returns the stream broker.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Metrics returns the lifecycle counters extension.
func (eng *Engine) Metrics() *observability.MetricsExtension { return eng.metrics }

// Limiter returns the activation limiter.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }

// Scheduler returns the cleanup scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }
