package actions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"

	"github.com/renholm/stagehand/internal/collab"
	"github.com/renholm/stagehand/internal/expressions"
	"github.com/renholm/stagehand/pkg/schema"
)

// promptAction delegates to the prompt-execution collaborator. Returned
// variables are merged into the instance context; an optional jq filter
// projects the collaborator's result before merging.
type promptAction struct {
	runner collab.PromptRunner
}

func (a *promptAction) Kind() schema.ActionKind { return schema.ActionPrompt }

func (a *promptAction) Execute(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error) {
	if a.runner == nil {
		return nil, schema.NewError(schema.ErrKindConfig, "no prompt runner configured")
	}

	args, err := expressions.InterpolateArgs(desc.PromptArgs, scopeOf(ec))
	if err != nil {
		return nil, err
	}

	result, err := a.runner.ExecutePrompt(ctx, desc.Prompt, args, ec.Vars)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindAction, "prompt %q failed", desc.Prompt).
			WithState(ec.State).
			WithDetails(map[string]any{"prompt": desc.Prompt}).
			WithCause(err)
	}

	vars := result.Variables
	if desc.Extract != "" {
		vars, err = applyExtract(desc.Extract, vars)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrKindAction,
				"prompt %q: extract filter failed", desc.Prompt).
				WithState(ec.State).
				WithDetails(map[string]any{"prompt": desc.Prompt, "extract": desc.Extract}).
				WithCause(err)
		}
	}
	ec.MergeVars(vars)

	data, _ := json.Marshal(map[string]any{
		"prompt":    desc.Prompt,
		"variables": vars,
	})
	return &ActionOutcome{Data: data}, nil
}

// applyExtract runs a jq filter over the prompt result variables. A filter
// yielding an object merges its fields; any other single value is stored
// under "result".
func applyExtract(filter string, vars map[string]any) (map[string]any, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindParse, "invalid jq filter %q: %v", filter, err).WithCause(err)
	}

	var input any = map[string]any{}
	if vars != nil {
		input = normalizeForJQ(vars)
	}

	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return map[string]any{}, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, err
	}

	if obj, isObj := v.(map[string]any); isObj {
		return obj, nil
	}
	return map[string]any{"result": v}, nil
}

// normalizeForJQ round-trips through JSON so all numbers and nested types
// match what gojq expects.
func normalizeForJQ(vars map[string]any) any {
	b, err := json.Marshal(vars)
	if err != nil {
		return vars
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return vars
	}
	return out
}
