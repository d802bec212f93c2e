package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds for structured error reporting.
const (
	ErrKindIO           = "IO_ERROR"
	ErrKindTemplate     = "TEMPLATE_ERROR"
	ErrKindGitOperation = "GIT_OPERATION_FAILED"
	ErrKindWorkflow     = "WORKFLOW_ERROR"
	ErrKindAction       = "ACTION_ERROR"
	ErrKindParse        = "PARSE_ERROR"
	ErrKindValidation   = "VALIDATION_ERROR"
	ErrKindStorage      = "STORAGE_ERROR"
	ErrKindProtocol     = "PROTOCOL_ERROR"
	ErrKindConfig       = "CONFIG_ERROR"
	ErrKindAbort        = "ABORTED"
)

// FlowError is the structured error type for all stagehand operations.
// Cause forms a singly-linked chain from most specific to most general.
type FlowError struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	State   string         `json:"state,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("[%s] state %s: %s", e.Kind, e.State, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(kind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(kind, format string, args ...any) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewAbort creates an Abort-kind error carrying the cancellation reason.
func NewAbort(reason string) *FlowError {
	return &FlowError{
		Kind:    ErrKindAbort,
		Message: reason,
		Details: map[string]any{"reason": reason},
	}
}

// NewGitOperation creates a GitOperation-kind error carrying operation name
// and collaborator details.
func NewGitOperation(operation, details string) *FlowError {
	return &FlowError{
		Kind:    ErrKindGitOperation,
		Message: fmt.Sprintf("git operation %q failed: %s", operation, details),
		Details: map[string]any{"operation": operation, "details": details},
	}
}

// WithState attaches the state in which the error occurred.
func (e *FlowError) WithState(state string) *FlowError {
	e.State = state
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// KindOf returns the kind of the outermost FlowError in err's chain,
// or "" if the chain contains none.
func KindOf(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// AbortReason extracts the abort reason if err's chain carries an Abort error.
func AbortReason(err error) (string, bool) {
	for err != nil {
		if fe, ok := err.(*FlowError); ok && fe.Kind == ErrKindAbort {
			if r, ok := fe.Details["reason"].(string); ok {
				return r, true
			}
			return fe.Message, true
		}
		err = errors.Unwrap(err)
	}
	return "", false
}

// FormatChain renders the full cause chain with increasing indentation per
// level, most specific error first.
func FormatChain(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	depth := 0
	for err != nil {
		if depth > 0 {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString("caused by: ")
		}
		b.WriteString(errorMessage(err))
		err = errors.Unwrap(err)
		depth++
	}
	return b.String()
}

// errorMessage returns err's own message without repeating its wrapped cause.
// FlowError's Error() already excludes the cause; for other error types we
// have no reliable way to strip it, so the full text is used.
func errorMessage(err error) string {
	return err.Error()
}

// Outcome is the three-tier process-level result downstream automation keys on.
type Outcome int

const (
	OutcomeSuccess Outcome = 0
	OutcomeWarning Outcome = 1
	OutcomeError   Outcome = 2
)

// ExitCode returns the process exit code for the outcome.
// The 0/1/2 mapping is a compatibility contract and must not change.
func (o Outcome) ExitCode() int {
	return int(o)
}

// OutcomeOf maps an error to its process-level outcome: nil is success,
// Abort and Parse/Validation errors are the distinguished error tier, and
// everything else is a warning.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*FlowError); ok {
			switch fe.Kind {
			case ErrKindAbort, ErrKindParse, ErrKindValidation:
				return OutcomeError
			}
		}
	}
	return OutcomeWarning
}
