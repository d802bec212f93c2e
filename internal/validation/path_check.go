package validation

import (
	"fmt"

	"github.com/renholm/stagehand/pkg/schema"
)

// validatePath performs graph analysis on the transition table: cycle
// detection (Kahn's algorithm over the single-successor edges) and
// reachability of the terminal marker from the start state. The observed
// workflows are simple paths, but a definition that loops back on itself
// must be rejected at load time rather than spinning the executor.
func validatePath(def *schema.Definition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Kahn's algorithm. Each state has at most one successor, so in-degree
	// bookkeeping stays trivial.
	inDegree := make(map[string]int, len(def.States))
	for _, s := range def.States {
		inDegree[s.Name] = 0
	}
	for from, to := range def.Transitions {
		if to == schema.TerminalMarker {
			continue
		}
		if _, ok := inDegree[to]; !ok {
			continue // unknown targets already reported by semantic
		}
		if _, ok := inDegree[from]; !ok {
			continue
		}
		inDegree[to]++
	}

	queue := make([]string, 0, len(def.States))
	for _, s := range def.States {
		if inDegree[s.Name] == 0 {
			queue = append(queue, s.Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		next, ok := def.Transitions[node]
		if !ok || next == schema.TerminalMarker {
			continue
		}
		if _, known := inDegree[next]; !known {
			continue
		}
		inDegree[next]--
		if inDegree[next] == 0 {
			queue = append(queue, next)
		}
	}

	if visited != len(def.States) {
		result.AddError("", schema.ErrKindValidation, "workflow contains a transition cycle")
		return result // reachability is meaningless with a cycle present
	}

	// Walk the path from start; the terminal marker must be reachable and
	// every state should lie on the path.
	reached := make(map[string]bool, len(def.States))
	current := def.Start
	terminalReached := false
	for current != "" && !reached[current] {
		reached[current] = true
		next, ok := def.Transitions[current]
		if !ok {
			break
		}
		if next == schema.TerminalMarker {
			terminalReached = true
			break
		}
		current = next
	}

	if !terminalReached {
		result.AddError(def.Start, schema.ErrKindValidation,
			"terminal marker is not reachable from the start state")
	}
	for _, s := range def.States {
		if !reached[s.Name] {
			result.AddWarning(s.Name, schema.ErrKindValidation,
				fmt.Sprintf("state %q is unreachable from the start state", s.Name))
		}
	}

	return result
}
