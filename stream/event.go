// Package stream provides a real-time event broker for lineup lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub. Delivery never blocks the dispatcher: a subscriber
// with a full buffer misses the event.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job state events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobActivated EventType = "job.active"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"

	// Attempt output events.
	EventJobProgress EventType = "job.progress"
	EventJobLog      EventType = "job.log"

	// Queue events.
	EventJobsRemoved EventType = "queue.removed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity channel this event was published on.
	Topic string `json:"topic,omitempty"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job events.
type JobEventData struct {
	JobID       string `json:"job_id"`
	JobName     string `json:"job_name,omitempty"`
	State       string `json:"state,omitempty"`
	Attempt     int    `json:"attempt,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	Progress    int    `json:"progress,omitempty"`
	Line        string `json:"line,omitempty"`
	ElapsedMs   int64  `json:"elapsed_ms,omitempty"`
	Error       string `json:"error,omitempty"`
	NextRunAt   string `json:"next_run_at,omitempty"`
}

// QueueEventData is the payload for queue events.
type QueueEventData struct {
	Removed int64 `json:"removed"`
}

// Decode unmarshals the event payload into T.
func Decode[T any](evt *Event) (T, error) {
	var t T
	err := json.Unmarshal(evt.Data, &t)
	return t, err
}
