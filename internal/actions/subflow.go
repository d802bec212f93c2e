package actions

import (
	"context"
	"encoding/json"

	"github.com/renholm/stagehand/pkg/schema"
)

// subflowAction runs a named child workflow through the executor. The
// parent instance blocks until the child reaches a terminal state; the
// child's final variables merge back into the parent context, and the
// child's error, if any, becomes this action's error with the child's
// failure preserved as the cause.
type subflowAction struct {
	run SubflowRunner
}

func (a *subflowAction) Kind() schema.ActionKind { return schema.ActionSubflow }

func (a *subflowAction) Execute(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error) {
	if a.run == nil {
		return nil, schema.NewError(schema.ErrKindConfig, "no sub-workflow runner configured")
	}

	data, err := a.run(ctx, desc.Workflow, ec)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		var vars map[string]any
		if err := json.Unmarshal(data, &vars); err != nil {
			return nil, schema.NewErrorf(schema.ErrKindWorkflow,
				"merge variables from workflow %q: %s", desc.Workflow, err.Error()).WithCause(err)
		}
		ec.MergeVars(vars)
	}
	return &ActionOutcome{Data: data}, nil
}
