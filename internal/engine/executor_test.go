package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/internal/abort"
	"github.com/renholm/stagehand/internal/actions"
	"github.com/renholm/stagehand/internal/collab"
	"github.com/renholm/stagehand/internal/parsing"
	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// mockPromptRunner scripts prompt outcomes by prompt name and lets a test
// hook observe each call (e.g. to signal an abort mid-run).
type mockPromptRunner struct {
	mu     sync.Mutex
	fail   map[string]error
	vars   map[string]map[string]any
	onCall func(name string)
	called []string
}

func (m *mockPromptRunner) ExecutePrompt(_ context.Context, name string, _ map[string]string, _ map[string]any) (*collab.PromptResult, error) {
	m.mu.Lock()
	m.called = append(m.called, name)
	m.mu.Unlock()
	if m.onCall != nil {
		m.onCall(name)
	}
	if err, ok := m.fail[name]; ok {
		return nil, err
	}
	return &collab.PromptResult{Variables: m.vars[name]}, nil
}

func (m *mockPromptRunner) Called() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.called))
	copy(out, m.called)
	return out
}

const reviewDoc = `---
name: review-cycle
title: Review Cycle
---

# Review Cycle

` + "```mermaid" + `
stateDiagram-v2
    [*] --> start
    start --> review
    review --> correct
    correct --> test
    test --> commit
    commit --> [*]
` + "```" + `

## Actions

- start: Log "beginning review of ${{ branch }}"
- review: Execute prompt "code-review" with target="${{ branch }}"
- correct: Execute prompt "apply-corrections"
- test: Execute prompt "run-tests"
- commit: Execute command "git" "commit" "-am" "review fixes"
`

// mockCommandRunner scripts command exit codes.
type mockCommandRunner struct {
	exitCode int
	stderr   string
	calls    [][]string
}

func (m *mockCommandRunner) ExecuteCommand(_ context.Context, name string, args []string) (*collab.CommandResult, error) {
	m.calls = append(m.calls, append([]string{name}, args...))
	return &collab.CommandResult{ExitCode: m.exitCode, Stderr: m.stderr}, nil
}

type harness struct {
	executor *Executor
	monitor  *abort.Monitor
	prompts  *mockPromptRunner
	commands *mockCommandRunner
	appender *mockAppender
}

func newHarness(t *testing.T, docs ...string) *harness {
	t.Helper()

	library, err := parsing.NewLibrary()
	require.NoError(t, err)
	for _, doc := range docs {
		def, err := parsing.Parse([]byte(doc), "")
		require.NoError(t, err)
		library.Add(def)
	}

	logger := slog.Default()
	registry := actions.NewRegistry()
	dispatcher := actions.NewDispatcher(registry, logger)
	monitor := abort.NewMonitor(t.TempDir())
	appender := &mockAppender{}

	executor := NewExecutor(Options{
		Library:    library,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Appender:   appender,
		Logger:     logger,
	})

	prompts := &mockPromptRunner{fail: map[string]error{}, vars: map[string]map[string]any{}}
	commands := &mockCommandRunner{}
	require.NoError(t, actions.RegisterBuiltins(registry, actions.Deps{
		Prompts:  prompts,
		Commands: commands,
		Subflow:  executor.RunSubflow,
		Logger:   logger,
	}))

	return &harness{
		executor: executor,
		monitor:  monitor,
		prompts:  prompts,
		commands: commands,
		appender: appender,
	}
}

func TestExecutor_RunCompletes(t *testing.T) {
	h := newHarness(t, reviewDoc)

	result, err := h.executor.Run(context.Background(), "review-cycle", map[string]any{"branch": "feature/x"})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, schema.OutcomeSuccess, result.Outcome())

	// One log entry per state, in transition order.
	require.Len(t, result.Log, 5)
	states := make([]string, len(result.Log))
	for i, e := range result.Log {
		states[i] = e.State
		assert.Nil(t, e.Error)
		assert.False(t, e.EndedAt.Before(e.StartedAt))
	}
	assert.Equal(t, []string{"start", "review", "correct", "test", "commit"}, states)

	assert.Equal(t, []string{"code-review", "apply-corrections", "run-tests"}, h.prompts.Called())
	require.Len(t, h.commands.calls, 1)
	assert.Equal(t, []string{"git", "commit", "-am", "review fixes"}, h.commands.calls[0])

	types := h.appender.Types()
	assert.Equal(t, schema.EventRunStarted, types[0])
	assert.Equal(t, schema.EventRunCompleted, types[len(types)-1])
}

func TestExecutor_FailureCarriesStateAndCause(t *testing.T) {
	h := newHarness(t, reviewDoc)
	rootCause := errors.New("collaborator exited with code 1")
	h.prompts.fail["apply-corrections"] = rootCause

	result, err := h.executor.Run(context.Background(), "review-cycle", map[string]any{"branch": "main"})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Equal(t, schema.OutcomeWarning, result.Outcome())

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindAction, fe.Kind)
	assert.Equal(t, "correct", fe.State)
	assert.ErrorIs(t, err, rootCause)

	// start and review succeeded, correct failed, test and commit never ran.
	require.Len(t, result.Log, 3)
	assert.Equal(t, "correct", result.Log[2].State)
	require.NotNil(t, result.Log[2].Error)
	assert.Empty(t, h.commands.calls)

	types := h.appender.Types()
	assert.Equal(t, schema.EventRunFailed, types[len(types)-1])
}

func TestExecutor_AbortStopsBeforeNextState(t *testing.T) {
	h := newHarness(t, reviewDoc)
	h.prompts.onCall = func(name string) {
		if name == "run-tests" {
			require.NoError(t, h.monitor.Signal("user requested stop"))
		}
	}

	result, err := h.executor.Run(context.Background(), "review-cycle", map[string]any{"branch": "main"})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusAborted, result.Status)
	assert.Equal(t, schema.OutcomeError, result.Outcome())

	reason, ok := schema.AbortReason(err)
	require.True(t, ok)
	assert.Equal(t, "user requested stop", reason)

	// commit is never dispatched once the marker exists.
	assert.Empty(t, h.commands.calls)
	assert.Equal(t, "run-tests", h.prompts.Called()[len(h.prompts.Called())-1])
}

func TestExecutor_AbortMarkerBeforeRun(t *testing.T) {
	h := newHarness(t, reviewDoc)
	require.NoError(t, h.monitor.Signal("maintenance window"))

	result, err := h.executor.Run(context.Background(), "review-cycle", map[string]any{"branch": "main"})
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusAborted, result.Status)
	assert.Equal(t, schema.OutcomeError, result.Outcome())

	reason, ok := schema.AbortReason(err)
	require.True(t, ok)
	assert.Equal(t, "maintenance window", reason)

	// No action is ever dispatched under a pre-existing marker.
	assert.Empty(t, result.Log)
	assert.Empty(t, h.prompts.Called())
	assert.Empty(t, h.commands.calls)
}

func TestExecutor_AbortWinsOverDispatchError(t *testing.T) {
	h := newHarness(t, reviewDoc)
	h.prompts.fail["run-tests"] = errors.New("killed")
	h.prompts.onCall = func(name string) {
		if name == "run-tests" {
			require.NoError(t, h.monitor.Signal("shutting down"))
		}
	}

	result, err := h.executor.Run(context.Background(), "review-cycle", nil)
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusAborted, result.Status)
	assert.Equal(t, schema.ErrKindAbort, schema.KindOf(err))
}

func TestExecutor_UnknownWorkflow(t *testing.T) {
	h := newHarness(t, reviewDoc)

	_, err := h.executor.Run(context.Background(), "no-such-flow", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindWorkflow, schema.KindOf(err))
}

const outerDoc = `---
name: outer
---
` + "```mermaid" + `
stateDiagram-v2
    [*] --> delegate
    delegate --> done
    done --> [*]
` + "```" + `

## Actions

- delegate: Run workflow "inner"
- done: Log "outer done, inner said ${{ greeting }}"
`

const innerDoc = `---
name: inner
---
` + "```mermaid" + `
stateDiagram-v2
    [*] --> greet
    greet --> [*]
` + "```" + `

## Actions

- greet: Execute prompt "greeter"
`

func TestExecutor_SubflowMergesChildVars(t *testing.T) {
	h := newHarness(t, outerDoc, innerDoc)
	h.prompts.vars["greeter"] = map[string]any{"greeting": "hello"}

	result, err := h.executor.Run(context.Background(), "outer", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, "hello", result.Vars["greeting"])
}

func TestExecutor_SubflowFailurePropagates(t *testing.T) {
	h := newHarness(t, outerDoc, innerDoc)
	h.prompts.fail["greeter"] = errors.New("no greeting today")

	result, err := h.executor.Run(context.Background(), "outer", nil)
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, result.Status)
	// The outer failure wraps the child's action error.
	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, "delegate", fe.State)
	assert.Contains(t, schema.FormatChain(err), "no greeting today")
}

const selfDoc = `---
name: ouroboros
---
` + "```mermaid" + `
stateDiagram-v2
    [*] --> recurse
    recurse --> [*]
` + "```" + `

## Actions

- recurse: Run workflow "ouroboros"
`

func TestExecutor_DepthLimit(t *testing.T) {
	h := newHarness(t, selfDoc)

	result, err := h.executor.Run(context.Background(), "ouroboros", nil)
	require.Error(t, err)

	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Contains(t, schema.FormatChain(err), "nesting exceeds maximum depth")
}

func TestRunFSM_RejectsInvalidTransition(t *testing.T) {
	fsm := NewRunFSM(&mockAppender{})

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusNotStarted, schema.RunStatusCompleted, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindWorkflow, schema.KindOf(err))

	err = fsm.Transition(context.Background(), "run-1", schema.RunStatusCompleted, schema.RunStatusRunning, nil)
	require.Error(t, err)
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(&mockAppender{})
	var order []string
	fsm.OnBefore(schema.RunStatusNotStarted, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		order = append(order, "before")
		return nil
	})
	fsm.OnAfter(schema.RunStatusNotStarted, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		order = append(order, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "run-1", schema.RunStatusNotStarted, schema.RunStatusRunning, nil))
	assert.Equal(t, []string{"before", "after"}, order)
}
