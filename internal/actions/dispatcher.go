package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/renholm/stagehand/internal/logging"
	"github.com/renholm/stagehand/pkg/schema"
)

// Dispatcher maps an action descriptor to its executable action and records
// the outcome. Every dispatch appends exactly one entry to the instance's
// execution log, whether the action succeeded or failed; the log is the
// sole audit trail of a run.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger}
}

// Dispatch executes the descriptor in the given execution context. Failures
// are returned as Action-kind errors carrying the state and wrapping the
// underlying cause.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *schema.ActionDescriptor, ec *ExecutionContext) (*ActionOutcome, error) {
	action, err := d.registry.Get(desc.Kind)
	if err != nil {
		// Unknown kinds are rejected at parse time; reaching this is a
		// wiring problem, still logged for the audit trail.
		d.appendEntry(ec, desc.Kind, time.Now().UTC(), nil, err)
		return nil, err
	}

	started := time.Now().UTC()
	outcome, execErr := action.Execute(ctx, desc, ec)

	if execErr != nil {
		wrapped := wrapActionErr(execErr, desc, ec.State)
		d.appendEntry(ec, desc.Kind, started, nil, wrapped)
		logging.LogWith(ctx, d.logger).Error("action failed",
			slog.String("state", ec.State),
			slog.String("kind", string(desc.Kind)),
			slog.String("error", execErr.Error()),
		)
		return nil, wrapped
	}

	d.appendEntry(ec, desc.Kind, started, outcome, nil)
	logging.LogWith(ctx, d.logger).Debug("action completed",
		slog.String("state", ec.State),
		slog.String("kind", string(desc.Kind)),
	)
	return outcome, nil
}

func (d *Dispatcher) appendEntry(ec *ExecutionContext, kind schema.ActionKind, started time.Time, outcome *ActionOutcome, err error) {
	entry := schema.LogEntry{
		State:     ec.State,
		Kind:      kind,
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	}
	if outcome != nil {
		entry.Outcome = outcome.Data
	}
	if err != nil {
		if fe, ok := err.(*schema.FlowError); ok {
			entry.Error = fe
		} else {
			entry.Error = schema.NewError(schema.ErrKindAction, err.Error())
		}
	}
	ec.Log.Append(entry)
}

// wrapActionErr ensures a dispatch failure surfaces as an Action-kind error
// with the state attached and the original error preserved as the cause.
// Errors that are already FlowErrors with the state set pass through.
func wrapActionErr(err error, desc *schema.ActionDescriptor, state string) error {
	if fe, ok := err.(*schema.FlowError); ok && fe.State == state && fe.Kind == schema.ErrKindAction {
		return fe
	}
	return schema.NewErrorf(schema.ErrKindAction, "%s action failed", desc.Kind).
		WithState(state).
		WithCause(err)
}
