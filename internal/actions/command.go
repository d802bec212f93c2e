package actions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/renholm/stagehand/internal/collab"
	"github.com/renholm/stagehand/internal/expressions"
	"github.com/renholm/stagehand/pkg/schema"
)

// commandAction delegates to the external command collaborator. Non-zero
// exits become Action errors carrying the operation name and details; git
// commands keep the GitOperation error shape.
type commandAction struct {
	runner collab.CommandRunner
}

func (a *commandAction) Kind() schema.ActionKind { return schema.ActionCommand }

func (a *commandAction) Execute(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error) {
	if a.runner == nil {
		return nil, schema.NewError(schema.ErrKindConfig, "no command runner configured")
	}

	scope := scopeOf(ec)
	args := make([]string, len(desc.CommandArgs))
	for i, raw := range desc.CommandArgs {
		resolved, err := expressions.Interpolate(raw, scope)
		if err != nil {
			return nil, err
		}
		args[i] = resolved
	}

	result, err := a.runner.ExecuteCommand(ctx, desc.Command, args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindAction, "command %q failed to run", desc.Command).
			WithState(ec.State).
			WithDetails(map[string]any{"command": desc.Command}).
			WithCause(err)
	}

	if result.ExitCode != 0 {
		details := strings.TrimSpace(result.Stderr)
		if details == "" {
			details = strings.TrimSpace(result.Stdout)
		}
		cause := error(schema.NewErrorf(schema.ErrKindAction,
			"command %q exited with code %d: %s", desc.Command, result.ExitCode, details).
			WithDetails(map[string]any{
				"command":   desc.Command,
				"exit_code": result.ExitCode,
				"details":   details,
			}))
		if desc.Command == "git" {
			operation := desc.Command
			if len(args) > 0 {
				operation = args[0]
			}
			cause = schema.NewGitOperation(operation, details)
		}
		return nil, schema.NewErrorf(schema.ErrKindAction, "command %q failed", desc.Command).
			WithState(ec.State).
			WithDetails(map[string]any{"command": desc.Command, "exit_code": result.ExitCode}).
			WithCause(cause)
	}

	data, _ := json.Marshal(map[string]any{
		"command":   desc.Command,
		"exit_code": 0,
		"stdout":    result.Stdout,
	})
	return &ActionOutcome{Data: data}, nil
}
