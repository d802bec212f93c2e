package store

import (
	"encoding/json"
	"time"

	"github.com/renholm/stagehand/pkg/schema"
)

// Run is the persisted representation of a workflow instance.
type Run struct {
	ID          string           `json:"id"`
	Workflow    string           `json:"workflow"`
	Status      schema.RunStatus `json:"status"`
	ParentID    string           `json:"parent_run_id,omitempty"`
	Depth       int              `json:"depth"`
	Vars        json.RawMessage  `json:"vars,omitempty"`
	Error       json.RawMessage  `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Event is an immutable entry in the append-only execution event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	State     string          `json:"state,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// RunUpdate specifies the mutable fields of a run.
type RunUpdate struct {
	Status      *schema.RunStatus `json:"status,omitempty"`
	Vars        json.RawMessage   `json:"vars,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status   *schema.RunStatus `json:"status,omitempty"`
	Workflow string            `json:"workflow,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// ScheduledJob is a cron-triggered workflow run.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Workflow       string          `json:"workflow"`
	CronExpression string          `json:"cron_expression"`
	Vars           json.RawMessage `json:"vars,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledJobUpdate specifies the mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}
