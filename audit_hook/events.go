package audithook

import "slices"

// Action names the lifecycle transition an AuditEvent records.
type Action string

const (
	ActionJobEnqueued  Action = "job.enqueued"
	ActionJobActivated Action = "job.activated"
	ActionJobRetrying  Action = "job.retrying"
	ActionJobCompleted Action = "job.completed"
	ActionJobFailed    Action = "job.failed"
	ActionJobsRemoved  Action = "queue.removed"
)

var allActions = []Action{
	ActionJobEnqueued,
	ActionJobActivated,
	ActionJobRetrying,
	ActionJobCompleted,
	ActionJobFailed,
	ActionJobsRemoved,
}

// AllActions returns every action the extension records.
func AllActions() []Action { return slices.Clone(allActions) }

// Severity grades an AuditEvent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Outcome says whether the recorded transition was a success.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

const (
	CategoryJob   = "lineup.job"
	CategoryQueue = "lineup.queue"

	ResourceJob   = "job"
	ResourceQueue = "queue"
)

// grade returns the severity and outcome recorded for a.
func (a Action) grade() (Severity, Outcome) {
	switch a {
	case ActionJobFailed:
		return SeverityCritical, OutcomeFailure
	case ActionJobRetrying:
		return SeverityWarning, OutcomeFailure
	default:
		return SeverityInfo, OutcomeSuccess
	}
}
