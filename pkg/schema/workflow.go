package schema

// TerminalMarker is the designated end-of-workflow marker in transition
// tables. A state whose successor is the terminal marker is the last state
// executed before the run completes.
const TerminalMarker = "[*]"

// Definition is the immutable parsed form of a workflow document: named
// states, a single-successor transition table, and one action per state.
// Safe to share read-only across concurrently running instances.
type Definition struct {
	Name        string            `json:"name"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Start       string            `json:"start"`
	States      []State           `json:"states"`
	Transitions map[string]string `json:"transitions"`
}

// State is one named state and the action dispatched on entering it.
type State struct {
	Name   string           `json:"name"`
	Action ActionDescriptor `json:"action"`
}

// LookupState returns the state with the given name.
func (d *Definition) LookupState(name string) (*State, bool) {
	for i := range d.States {
		if d.States[i].Name == name {
			return &d.States[i], true
		}
	}
	return nil, false
}

// Next returns the successor of a state per the transition table.
// The second return is false when the state has no outgoing transition.
func (d *Definition) Next(state string) (string, bool) {
	next, ok := d.Transitions[state]
	return next, ok
}

// IsFinal reports whether the state transitions directly to the terminal marker.
func (d *Definition) IsFinal(state string) bool {
	return d.Transitions[state] == TerminalMarker
}

// ActionKind enumerates the closed set of action variants a state may carry.
// Workflow documents naming any other kind fail parsing.
type ActionKind string

const (
	ActionLog     ActionKind = "log"
	ActionPrompt  ActionKind = "execute_prompt"
	ActionSubflow ActionKind = "run_workflow"
	ActionCommand ActionKind = "execute_command"
)

// ActionDescriptor is a tagged variant over the four action kinds.
// Only the fields belonging to Kind are populated; immutable after load.
type ActionDescriptor struct {
	Kind ActionKind `json:"kind"`

	// log
	Message string `json:"message,omitempty"`

	// execute_prompt
	Prompt     string            `json:"prompt,omitempty"`
	PromptArgs map[string]string `json:"prompt_args,omitempty"`
	Extract    string            `json:"extract,omitempty"` // jq filter applied to the prompt result

	// run_workflow
	Workflow string `json:"workflow,omitempty"`

	// execute_command
	Command     string   `json:"command,omitempty"`
	CommandArgs []string `json:"command_args,omitempty"`
}

// RunStatus represents the lifecycle state of a workflow instance.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "not_started"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether the status is one of the three terminal outcomes.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted || s == RunStatusFailed
}
