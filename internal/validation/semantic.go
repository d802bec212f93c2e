package validation

import (
	"fmt"

	"github.com/renholm/stagehand/pkg/schema"
)

// validateSemantic checks the definition invariants that JSON Schema cannot
// express: the start state exists, every non-terminal state has exactly one
// outgoing transition to a known state, state names do not collide, and
// every state carries an action of a known kind.
func validateSemantic(def *schema.Definition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	names := make(map[string]bool, len(def.States))
	for _, s := range def.States {
		if names[s.Name] {
			result.AddError(s.Name, schema.ErrKindValidation,
				fmt.Sprintf("duplicate state name %q", s.Name))
			continue
		}
		names[s.Name] = true
	}

	if def.Start == "" {
		result.AddError("", schema.ErrKindValidation, "no start state designated")
	} else if !names[def.Start] {
		result.AddError(def.Start, schema.ErrKindValidation,
			fmt.Sprintf("start state %q is not declared in the diagram", def.Start))
	}

	terminalSeen := false
	for _, s := range def.States {
		target, ok := def.Transitions[s.Name]
		if !ok {
			result.AddError(s.Name, schema.ErrKindValidation,
				fmt.Sprintf("state %q has no outgoing transition and is not the terminal marker", s.Name))
			continue
		}
		if target == schema.TerminalMarker {
			terminalSeen = true
			continue
		}
		if !names[target] {
			result.AddError(s.Name, schema.ErrKindValidation,
				fmt.Sprintf("state %q transitions to unknown state %q", s.Name, target))
		}
	}
	if !terminalSeen {
		result.AddError("", schema.ErrKindValidation, "no transition to the terminal marker")
	}

	for from := range def.Transitions {
		if from != schema.TerminalMarker && !names[from] {
			result.AddError(from, schema.ErrKindValidation,
				fmt.Sprintf("transition from unknown state %q", from))
		}
	}

	for _, s := range def.States {
		if !knownActionKind(s.Action.Kind) {
			result.AddError(s.Name, schema.ErrKindValidation,
				fmt.Sprintf("state %q has no action or an unknown action kind %q", s.Name, s.Action.Kind))
		}
	}

	return result
}

func knownActionKind(k schema.ActionKind) bool {
	switch k {
	case schema.ActionLog, schema.ActionPrompt, schema.ActionSubflow, schema.ActionCommand:
		return true
	}
	return false
}
