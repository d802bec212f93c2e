package schema

import (
	"encoding/json"
	"time"
)

// Event type constants for the append-only execution log.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunAborted   = "run_aborted"
	EventRunFailed    = "run_failed"

	EventStateEntered   = "state_entered"
	EventActionStarted  = "action_started"
	EventActionComplete = "action_completed"
	EventActionFailed   = "action_failed"
)

// LogEntry is one entry in an instance's execution log: a state entry plus
// the outcome of the action dispatched there. The log is append-only and is
// the sole audit trail of a run.
type LogEntry struct {
	State     string          `json:"state"`
	Kind      ActionKind      `json:"kind"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
	Error     *FlowError      `json:"error,omitempty"`
}
