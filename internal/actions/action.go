package actions

import (
	"context"
	"encoding/json"

	"github.com/renholm/stagehand/pkg/schema"
)

// Action executes one kind of action descriptor.
type Action interface {
	Kind() schema.ActionKind
	Execute(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error)
}

// ActionOutcome is the result of a successful action execution.
type ActionOutcome struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// LogAppender receives execution-log entries. Satisfied by the engine's
// per-instance log; append-only by contract.
type LogAppender interface {
	Append(entry schema.LogEntry)
}

// SubflowRunner executes a child workflow on behalf of the run_workflow
// action. The executor satisfies this after construction (late-bind) to
// avoid an import cycle.
type SubflowRunner func(ctx context.Context, workflowName string, parent *ExecutionContext) (json.RawMessage, error)

// ExecutionContext is the view of a running instance an action operates on.
// Vars is exclusively owned by the instance and actions run strictly
// sequentially, so no locking is needed.
type ExecutionContext struct {
	RunID    string
	Workflow string
	State    string
	Depth    int
	Vars     map[string]any
	Log      LogAppender
}

// SetVar merges a single variable into the instance context.
func (ec *ExecutionContext) SetVar(key string, val any) {
	if ec.Vars == nil {
		ec.Vars = make(map[string]any)
	}
	ec.Vars[key] = val
}

// MergeVars merges returned collaborator variables into the instance context.
func (ec *ExecutionContext) MergeVars(vars map[string]any) {
	for k, v := range vars {
		ec.SetVar(k, v)
	}
}
