package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renholm/stagehand/internal/abort"
	"github.com/renholm/stagehand/internal/actions"
	"github.com/renholm/stagehand/internal/logging"
	"github.com/renholm/stagehand/internal/parsing"
	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

// DefaultMaxDepth bounds nested run_workflow invocations. The root run is
// depth 0; a chain deeper than this fails with a Workflow error rather than
// recursing without bound.
const DefaultMaxDepth = 10

// Options configures an Executor. Store and Appender may be nil for
// ephemeral (non-persisted) execution; everything else is required.
type Options struct {
	Library    *parsing.Library
	Dispatcher *actions.Dispatcher
	Monitor    *abort.Monitor
	Store      store.Store
	Appender   EventAppender
	Logger     *slog.Logger
	MaxDepth   int
}

// Executor drives workflow instances through their transition tables,
// dispatching one action per state and recording every step in the
// execution log.
type Executor struct {
	library    *parsing.Library
	dispatcher *actions.Dispatcher
	monitor    *abort.Monitor
	store      store.Store
	fsm        *RunFSM
	appender   EventAppender
	logger     *slog.Logger
	maxDepth   int
}

// NewExecutor creates an Executor. Wire the returned executor's RunSubflow
// into the action registry so run_workflow actions can launch children.
func NewExecutor(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Executor{
		library:    opts.Library,
		dispatcher: opts.Dispatcher,
		monitor:    opts.Monitor,
		store:      opts.Store,
		fsm:        NewRunFSM(opts.Appender),
		appender:   opts.Appender,
		logger:     logger,
		maxDepth:   maxDepth,
	}
}

// RunResult is the terminal summary of one instance.
type RunResult struct {
	RunID    string
	Workflow string
	Status   schema.RunStatus
	Vars     map[string]any
	Log      []schema.LogEntry
	Err      error
}

// Outcome maps the result to the three-tier process outcome.
func (r *RunResult) Outcome() schema.Outcome {
	return schema.OutcomeOf(r.Err)
}

// Run executes the named workflow to a terminal status. The returned error
// is the run's terminal error (also carried in the result); a nil error
// means the run completed.
func (e *Executor) Run(ctx context.Context, workflowName string, vars map[string]any) (*RunResult, error) {
	def, err := e.library.Get(workflowName)
	if err != nil {
		return nil, err
	}
	return e.execute(ctx, def, vars, 0, "")
}

// RunSubflow satisfies actions.SubflowRunner. The child runs synchronously
// in the parent's goroutine with a copy of the parent's variables; its final
// variables are returned for the parent to merge.
func (e *Executor) RunSubflow(ctx context.Context, workflowName string, parent *actions.ExecutionContext) (json.RawMessage, error) {
	depth := parent.Depth + 1
	if depth > e.maxDepth {
		return nil, schema.NewErrorf(schema.ErrKindWorkflow,
			"workflow nesting exceeds maximum depth %d", e.maxDepth).
			WithDetails(map[string]any{"workflow": workflowName, "depth": depth})
	}

	def, err := e.library.Get(workflowName)
	if err != nil {
		return nil, err
	}

	childVars := make(map[string]any, len(parent.Vars))
	for k, v := range parent.Vars {
		childVars[k] = v
	}

	result, err := e.execute(ctx, def, childVars, depth, parent.RunID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result.Vars)
}

func (e *Executor) execute(ctx context.Context, def *schema.Definition, vars map[string]any, depth int, parentID string) (*RunResult, error) {
	runID := uuid.NewString()
	if vars == nil {
		vars = make(map[string]any)
	}

	ctx = logging.WithRunID(ctx, runID)
	ctx = logging.WithWorkflow(ctx, def.Name)
	logger := logging.LogWith(ctx, e.logger)

	log := &ExecutionLog{}
	ec := &actions.ExecutionContext{
		RunID:    runID,
		Workflow: def.Name,
		Depth:    depth,
		Vars:     vars,
		Log:      log,
	}
	result := &RunResult{
		RunID:    runID,
		Workflow: def.Name,
		Status:   schema.RunStatusNotStarted,
		Vars:     vars,
	}

	if err := e.createRun(ctx, runID, def.Name, depth, parentID); err != nil {
		result.Err = err
		return result, err
	}

	if err := e.transition(ctx, result, schema.RunStatusRunning, nil); err != nil {
		result.Err = err
		return result, err
	}
	logger.Info("run started", slog.Int("depth", depth))

	current := def.Start
	for {
		// Abort is checked before every state entry so a signaled run never
		// dispatches another action.
		if err := e.abortErr(ctx); err != nil {
			return e.finishAborted(ctx, result, log, err, logger)
		}

		state, ok := def.LookupState(current)
		if !ok {
			err := schema.NewErrorf(schema.ErrKindWorkflow, "state %q not defined", current).WithState(current)
			return e.finishFailed(ctx, result, log, err, logger)
		}

		ec.State = current
		stateCtx := logging.WithState(ctx, current)
		e.emit(stateCtx, runID, current, schema.EventStateEntered, nil)
		e.emitAction(stateCtx, runID, current, schema.EventActionStarted, state.Action.Kind)

		outcome, dispatchErr := e.dispatcher.Dispatch(stateCtx, &state.Action, ec)

		// Abort takes precedence over a dispatch failure: a collaborator
		// killed by the abort signal reports an error, but the run's
		// terminal status must still be Aborted.
		if err := e.abortErr(ctx); err != nil {
			e.emitActionEnd(stateCtx, runID, current, nil, err)
			return e.finishAborted(ctx, result, log, err, logger)
		}

		if dispatchErr != nil {
			e.emitActionEnd(stateCtx, runID, current, nil, dispatchErr)
			return e.finishFailed(ctx, result, log, dispatchErr, logger)
		}
		e.emitActionEnd(stateCtx, runID, current, outcome, nil)

		next, ok := def.Next(current)
		if !ok {
			err := schema.NewErrorf(schema.ErrKindWorkflow, "state %q has no outgoing transition", current).WithState(current)
			return e.finishFailed(ctx, result, log, err, logger)
		}
		if next == schema.TerminalMarker {
			break
		}
		current = next
	}

	if err := e.transition(ctx, result, schema.RunStatusCompleted, nil); err != nil {
		result.Err = err
		result.Log = log.Entries()
		return result, err
	}
	result.Log = log.Entries()
	logger.Info("run completed", slog.Int("actions", log.Len()))
	return result, nil
}

// abortErr reports a pending abort, from the marker or from an
// abort-caused context cancellation.
func (e *Executor) abortErr(ctx context.Context) error {
	if e.monitor != nil {
		if err := e.monitor.Err(); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			if schema.KindOf(cause) == schema.ErrKindAbort {
				return cause
			}
		}
		return schema.NewError(schema.ErrKindWorkflow, "run cancelled").WithCause(ctx.Err())
	}
	return nil
}

func (e *Executor) finishAborted(ctx context.Context, result *RunResult, log *ExecutionLog, abortErr error, logger *slog.Logger) (*RunResult, error) {
	payload, _ := json.Marshal(map[string]any{"reason": abortReasonOf(abortErr)})
	if err := e.transition(ctx, result, schema.RunStatusAborted, payload); err != nil {
		logger.Error("record abort", slog.String("error", err.Error()))
	}
	result.Err = abortErr
	result.Log = log.Entries()
	logger.Warn("run aborted", slog.String("reason", abortReasonOf(abortErr)))
	return result, abortErr
}

func (e *Executor) finishFailed(ctx context.Context, result *RunResult, log *ExecutionLog, runErr error, logger *slog.Logger) (*RunResult, error) {
	payload := errPayload(runErr)
	if err := e.transition(ctx, result, schema.RunStatusFailed, payload); err != nil {
		logger.Error("record failure", slog.String("error", err.Error()))
	}
	result.Err = runErr
	result.Log = log.Entries()
	logger.Error("run failed", slog.String("error", runErr.Error()))
	return result, runErr
}

// transition moves the run to the new status through the FSM and mirrors it
// into the store.
func (e *Executor) transition(ctx context.Context, result *RunResult, to schema.RunStatus, payload []byte) error {
	if err := e.fsm.Transition(ctx, result.RunID, result.Status, to, payload); err != nil {
		return err
	}
	result.Status = to

	if e.store == nil {
		return nil
	}
	now := time.Now().UTC()
	update := store.RunUpdate{Status: &to}
	switch {
	case to == schema.RunStatusRunning:
		update.StartedAt = &now
	case to.Terminal():
		update.CompletedAt = &now
		update.Error = payloadErrorOnly(to, payload)
		if vars, err := json.Marshal(result.Vars); err == nil {
			update.Vars = vars
		}
	}
	if err := e.store.UpdateRun(ctx, result.RunID, update); err != nil {
		return schema.NewErrorf(schema.ErrKindStorage, "persist run status: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (e *Executor) createRun(ctx context.Context, runID, workflow string, depth int, parentID string) error {
	if e.store == nil {
		return nil
	}
	run := &store.Run{
		ID:       runID,
		Workflow: workflow,
		Status:   schema.RunStatusNotStarted,
		ParentID: parentID,
		Depth:    depth,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return schema.NewErrorf(schema.ErrKindStorage, "create run: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (e *Executor) emit(ctx context.Context, runID, state, eventType string, payload []byte) {
	if e.appender == nil {
		return
	}
	event := &store.Event{RunID: runID, State: state, Type: eventType, Payload: payload}
	if err := e.appender.AppendEvent(ctx, event); err != nil {
		logging.LogWith(ctx, e.logger).Error("append event",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

func (e *Executor) emitAction(ctx context.Context, runID, state, eventType string, kind schema.ActionKind) {
	payload, _ := json.Marshal(map[string]any{"action": kind})
	e.emit(ctx, runID, state, eventType, payload)
}

func (e *Executor) emitActionEnd(ctx context.Context, runID, state string, outcome *actions.ActionOutcome, err error) {
	if err != nil {
		e.emit(ctx, runID, state, schema.EventActionFailed, errPayload(err))
		return
	}
	var payload []byte
	if outcome != nil {
		payload = outcome.Data
	}
	e.emit(ctx, runID, state, schema.EventActionComplete, payload)
}

func errPayload(err error) []byte {
	if fe, ok := err.(*schema.FlowError); ok {
		if b, merr := json.Marshal(fe); merr == nil {
			return b
		}
	}
	b, _ := json.Marshal(map[string]any{"message": err.Error()})
	return b
}

func payloadErrorOnly(to schema.RunStatus, payload []byte) json.RawMessage {
	if to == schema.RunStatusCompleted || len(payload) == 0 {
		return nil
	}
	return payload
}

func abortReasonOf(err error) string {
	if reason, ok := schema.AbortReason(err); ok {
		return reason
	}
	return abort.UnknownReason
}
