package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/lineup/ext"
	"github.com/xraph/lineup/job"
)

var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.JobEnqueued  = (*Broker)(nil)
	_ ext.JobActivated = (*Broker)(nil)
	_ ext.JobProgress  = (*Broker)(nil)
	_ ext.JobLog       = (*Broker)(nil)
	_ ext.JobRetrying  = (*Broker)(nil)
	_ ext.JobCompleted = (*Broker)(nil)
	_ ext.JobFailed    = (*Broker)(nil)
	_ ext.JobsRemoved  = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker turns lifecycle hooks into events and fans them out to
// subscribers by topic. Register it with the extension registry.
type Broker struct {
	logger *slog.Logger
	buffer int
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[string]*Subscriber
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(n int) BrokerOption {
	return func(b *Broker) { b.buffer = n }
}

// WithBrokerClock sets the source of event timestamps.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// NewBroker creates a Broker with no subscribers. Events are stamped with
// time.Now unless WithBrokerClock is given.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		logger: logger,
		buffer: DefaultBufferSize,
		now:    time.Now,
		subs:   make(map[string]*Subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe registers id on topics, or on the firehose when none are given.
// A subscriber already registered under id is replaced and closed. After
// shutdown the returned subscriber is already closed.
func (b *Broker) Subscribe(id string, topics ...string) *Subscriber {
	if len(topics) == 0 {
		topics = []string{TopicFirehose}
	}
	sub := newSubscriber(id, b.buffer, topics)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	old := b.subs[id]
	b.subs[id] = sub
	b.mu.Unlock()

	if old != nil {
		old.close()
	}
	return sub
}

// Unsubscribe removes id and closes its channel. Unknown ids are ignored.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	sub := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if sub != nil {
		sub.close()
	}
}

// BrokerStats counts subscribers and deliveries.
type BrokerStats struct {
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats reports the current subscriber count along with how many events
// were published and how many were dropped on full subscriber buffers.
func (b *Broker) Stats() BrokerStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BrokerStats{
		SubscriberCount: n,
		TotalPublished:  b.published.Load(),
		TotalDropped:    b.dropped.Load(),
	}
}

// publish delivers evt once to every subscriber following one of its
// routes.
func (b *Broker) publish(evt *Event) {
	topics := routes(evt)

	b.mu.RLock()
	targets := make([]*Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.follows(topics) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if s.offer(evt) {
			b.published.Add(1)
		} else {
			b.dropped.Add(1)
		}
	}
}

func (b *Broker) emit(t EventType, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("stream event not encoded",
			slog.String("type", string(t)),
			slog.String("error", err.Error()),
		)
		return
	}
	b.publish(&Event{Type: t, Timestamp: b.now().UTC(), Topic: topic, Data: data})
}

func snapshot(j *job.Job) JobEventData {
	return JobEventData{
		JobID:       j.ID,
		JobName:     j.Name,
		State:       string(j.State),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		Progress:    j.Progress,
	}
}

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.emit(EventJobEnqueued, JobTopic(j.ID), snapshot(j))
	return nil
}

func (b *Broker) OnJobActivated(_ context.Context, j *job.Job) error {
	b.emit(EventJobActivated, JobTopic(j.ID), snapshot(j))
	return nil
}

func (b *Broker) OnJobProgress(_ context.Context, jobID string, attempt, progress int) error {
	b.emit(EventJobProgress, JobTopic(jobID), JobEventData{JobID: jobID, Attempt: attempt, Progress: progress})
	return nil
}

func (b *Broker) OnJobLog(_ context.Context, jobID string, attempt int, line string) error {
	b.emit(EventJobLog, JobTopic(jobID), JobEventData{JobID: jobID, Attempt: attempt, Line: line})
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, jobErr error, nextRunAt time.Time) error {
	d := snapshot(j)
	d.Error = jobErr.Error()
	d.NextRunAt = nextRunAt.UTC().Format(time.RFC3339Nano)
	b.emit(EventJobRetrying, JobTopic(j.ID), d)
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	d := snapshot(j)
	d.ElapsedMs = elapsed.Milliseconds()
	b.emit(EventJobCompleted, JobTopic(j.ID), d)
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	d := snapshot(j)
	d.Error = jobErr.Error()
	b.emit(EventJobFailed, JobTopic(j.ID), d)
	return nil
}

// OnJobsRemoved publishes on the firehose only.
func (b *Broker) OnJobsRemoved(_ context.Context, count int64) error {
	b.emit(EventJobsRemoved, "", QueueEventData{Removed: count})
	return nil
}

// Close closes every subscriber and refuses new ones. Calling it again does
// nothing. Servers call it when they begin shutting down so streaming
// handlers return before the engine stops.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs
	b.subs = make(map[string]*Subscriber)
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	b.logger.Info("stream broker shut down", slog.Int("subscribers", len(subs)))
}

// OnShutdown implements ext.Shutdown by calling Close.
func (b *Broker) OnShutdown(context.Context) error {
	b.Close()
	return nil
}
