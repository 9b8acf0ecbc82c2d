package job

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/lineup"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is queued and eligible for dispatch once
	// its RunAt has passed.
	StateWaiting State = "waiting"
	// StateActive means an attempt is executing.
	StateActive State = "active"
	// StateCompleted means an attempt succeeded. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the last allowed attempt failed. Terminal.
	StateFailed State = "failed"
)

// States lists every state in lifecycle order.
var States = []State{StateWaiting, StateActive, StateCompleted, StateFailed}

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	return slices.Contains(States, s)
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	switch from {
	case StateWaiting:
		return to == StateActive
	case StateActive:
		return to == StateWaiting || to == StateCompleted || to == StateFailed
	default:
		return false
	}
}

// LogEntry is one line appended by a processor, or an attempt marker.
type LogEntry struct {
	Attempt int       `json:"attempt" msgpack:"attempt"`
	Line    string    `json:"line" msgpack:"line"`
	Marker  bool      `json:"marker,omitempty" msgpack:"marker,omitempty"`
	Time    time.Time `json:"time" msgpack:"time"`
}

// Job is a unit of work tracked from enqueue to terminal resolution.
type Job struct {
	lineup.Entity

	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	State       State           `json:"state"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Progress    int             `json:"progress"`
	Logs        []LogEntry      `json:"logs,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	RunAt       time.Time       `json:"run_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Timeout     time.Duration   `json:"timeout,omitempty"`
}

// Clone returns a deep copy that shares no memory with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Payload = slices.Clone(j.Payload)
	cp.Logs = slices.Clone(j.Logs)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

// Eligible reports whether a waiting job may be dispatched at now.
func (j *Job) Eligible(now time.Time) bool {
	return j.State == StateWaiting && !j.RunAt.After(now)
}

// AttemptLogs returns the log lines written during the given attempt,
// excluding the attempt marker.
func (j *Job) AttemptLogs(attempt int) []string {
	var out []string
	for _, e := range j.Logs {
		if e.Attempt == attempt && !e.Marker {
			out = append(out, e.Line)
		}
	}
	return out
}

// Activate starts the next attempt: waiting → active, attempt+1, progress
// reset, attempt marker appended.
func (j *Job) Activate(now time.Time) error {
	if err := j.transition(StateActive); err != nil {
		return err
	}
	if j.Attempt >= j.MaxAttempts {
		return fmt.Errorf("%w: job %s has used %d of %d attempts", lineup.ErrInvalidState, j.ID, j.Attempt, j.MaxAttempts)
	}
	j.State = StateActive
	j.Attempt++
	j.Progress = 0
	j.StartedAt = &now
	j.FinishedAt = nil
	j.Logs = append(j.Logs, LogEntry{
		Attempt: j.Attempt,
		Line:    fmt.Sprintf("--- attempt %d/%d ---", j.Attempt, j.MaxAttempts),
		Marker:  true,
		Time:    now,
	})
	j.Touch(now)
	return nil
}

// Requeue sends a failed attempt back to waiting. The job becomes eligible
// again at runAt. It refuses when no attempts remain, so a job can never be
// retried past MaxAttempts whatever the retry policy says.
func (j *Job) Requeue(attempt int, cause string, runAt, now time.Time) error {
	if err := j.current(attempt); err != nil {
		return err
	}
	if err := j.transition(StateWaiting); err != nil {
		return err
	}
	if j.Attempt >= j.MaxAttempts {
		return fmt.Errorf("%w: job %s has no attempts left", lineup.ErrInvalidState, j.ID)
	}
	j.State = StateWaiting
	j.LastError = cause
	j.RunAt = runAt
	j.Touch(now)
	return nil
}

// Complete resolves the job as completed.
func (j *Job) Complete(attempt int, now time.Time) error {
	if err := j.current(attempt); err != nil {
		return err
	}
	if err := j.transition(StateCompleted); err != nil {
		return err
	}
	j.State = StateCompleted
	j.FinishedAt = &now
	j.Touch(now)
	return nil
}

// Fail resolves the job as failed with the given cause.
func (j *Job) Fail(attempt int, cause string, now time.Time) error {
	if err := j.current(attempt); err != nil {
		return err
	}
	if err := j.transition(StateFailed); err != nil {
		return err
	}
	j.State = StateFailed
	j.LastError = cause
	j.FinishedAt = &now
	j.Touch(now)
	return nil
}

// SetProgress records progress for the given attempt. Values are clamped to
// [0, 100]; a value lower than the current progress is ignored. It reports
// whether the stored progress changed.
func (j *Job) SetProgress(attempt, pct int, now time.Time) (bool, error) {
	if err := j.current(attempt); err != nil {
		return false, err
	}
	pct = max(0, min(100, pct))
	if pct <= j.Progress {
		return false, nil
	}
	j.Progress = pct
	j.Touch(now)
	return true, nil
}

// AppendLog records a log line for the given attempt.
func (j *Job) AppendLog(attempt int, line string, now time.Time) error {
	if err := j.current(attempt); err != nil {
		return err
	}
	j.Logs = append(j.Logs, LogEntry{Attempt: attempt, Line: line, Time: now})
	j.Touch(now)
	return nil
}

// current checks that attempt is the job's running attempt.
func (j *Job) current(attempt int) error {
	if j.State != StateActive || j.Attempt != attempt {
		return fmt.Errorf("%w: job %s attempt %d (state %s, attempt %d)",
			lineup.ErrStaleAttempt, j.ID, attempt, j.State, j.Attempt)
	}
	return nil
}

func (j *Job) transition(to State) error {
	if !CanTransition(j.State, to) {
		return fmt.Errorf("%w: job %s %s → %s", lineup.ErrInvalidState, j.ID, j.State, to)
	}
	return nil
}

// Decode unmarshals the job payload into T.
func Decode[T any](j *Job) (T, error) {
	var t T
	if len(j.Payload) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(j.Payload, &t); err != nil {
		return t, fmt.Errorf("decode payload for job %s: %w", j.ID, err)
	}
	return t, nil
}

// Stats counts tracked jobs by state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Total returns the number of tracked jobs.
func (s Stats) Total() int64 {
	return s.Waiting + s.Active + s.Completed + s.Failed
}

// Add counts one job in state st.
func (s *Stats) Add(st State) {
	switch st {
	case StateWaiting:
		s.Waiting++
	case StateActive:
		s.Active++
	case StateCompleted:
		s.Completed++
	case StateFailed:
		s.Failed++
	}
}
