package actions

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/renholm/stagehand/internal/expressions"
	"github.com/renholm/stagehand/internal/logging"
	"github.com/renholm/stagehand/pkg/schema"
)

// logAction writes a message to the instance's execution log. It always
// succeeds unless the message's interpolation is malformed.
type logAction struct {
	logger *slog.Logger
}

func (a *logAction) Kind() schema.ActionKind { return schema.ActionLog }

func (a *logAction) Execute(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error) {
	message, err := expressions.Interpolate(desc.Message, scopeOf(ec))
	if err != nil {
		return nil, err
	}

	logging.LogWith(ctx, a.logger).Info(message,
		slog.String("state", ec.State),
	)

	data, _ := json.Marshal(map[string]any{"message": message})
	return &ActionOutcome{Data: data}, nil
}

// scopeOf builds the interpolation scope for an execution context.
func scopeOf(ec *ExecutionContext) *expressions.Scope {
	return &expressions.Scope{
		Context: ec.Vars,
		Run: map[string]any{
			"run_id":   ec.RunID,
			"workflow": ec.Workflow,
			"state":    ec.State,
			"depth":    ec.Depth,
		},
	}
}
