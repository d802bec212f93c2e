package actions

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/internal/collab"
	"github.com/renholm/stagehand/pkg/schema"
)

type fakeLog struct {
	mu      sync.Mutex
	entries []schema.LogEntry
}

func (l *fakeLog) Append(entry schema.LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

type fakePrompts struct {
	result *collab.PromptResult
	err    error
	args   map[string]string
}

func (f *fakePrompts) ExecutePrompt(_ context.Context, _ string, args map[string]string, _ map[string]any) (*collab.PromptResult, error) {
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeCommands struct {
	result *collab.CommandResult
	err    error
	args   []string
}

func (f *fakeCommands) ExecuteCommand(_ context.Context, _ string, args []string) (*collab.CommandResult, error) {
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testDeps struct {
	dispatcher *Dispatcher
	prompts    *fakePrompts
	commands   *fakeCommands
	ec         *ExecutionContext
	log        *fakeLog
}

func newTestDeps(t *testing.T) *testDeps {
	t.Helper()

	registry := NewRegistry()
	prompts := &fakePrompts{result: &collab.PromptResult{}}
	commands := &fakeCommands{result: &collab.CommandResult{}}
	require.NoError(t, RegisterBuiltins(registry, Deps{
		Prompts:  prompts,
		Commands: commands,
		Subflow: func(context.Context, string, *ExecutionContext) (json.RawMessage, error) {
			return nil, nil
		},
	}))

	log := &fakeLog{}
	return &testDeps{
		dispatcher: NewDispatcher(registry, slog.Default()),
		prompts:    prompts,
		commands:   commands,
		log:        log,
		ec: &ExecutionContext{
			RunID:    "r-1",
			Workflow: "wf",
			State:    "work",
			Vars:     map[string]any{"branch": "main"},
			Log:      log,
		},
	}
}

func TestDispatch_SuccessAppendsOneEntry(t *testing.T) {
	d := newTestDeps(t)
	desc := &schema.ActionDescriptor{Kind: schema.ActionLog, Message: "on ${{ branch }}"}

	outcome, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Contains(t, string(outcome.Data), "on main")

	require.Len(t, d.log.entries, 1)
	entry := d.log.entries[0]
	assert.Equal(t, "work", entry.State)
	assert.Equal(t, schema.ActionLog, entry.Kind)
	assert.Nil(t, entry.Error)
	assert.False(t, entry.EndedAt.Before(entry.StartedAt))
}

func TestDispatch_FailureAppendsOneEntry(t *testing.T) {
	d := newTestDeps(t)
	cause := errors.New("collaborator crashed")
	d.prompts.err = cause
	desc := &schema.ActionDescriptor{Kind: schema.ActionPrompt, Prompt: "review"}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindAction, fe.Kind)
	assert.Equal(t, "work", fe.State)
	assert.ErrorIs(t, err, cause)

	require.Len(t, d.log.entries, 1)
	require.NotNil(t, d.log.entries[0].Error)
	assert.Equal(t, schema.ErrKindAction, d.log.entries[0].Error.Kind)
}

func TestDispatch_UnknownKind(t *testing.T) {
	d := newTestDeps(t)
	desc := &schema.ActionDescriptor{Kind: "teleport"}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.Error(t, err)
	require.Len(t, d.log.entries, 1)
}

func TestDispatch_PromptMergesVariables(t *testing.T) {
	d := newTestDeps(t)
	d.prompts.result = &collab.PromptResult{Variables: map[string]any{"verdict": "approve"}}
	desc := &schema.ActionDescriptor{
		Kind:       schema.ActionPrompt,
		Prompt:     "review",
		PromptArgs: map[string]string{"target": "${{ branch }}"},
	}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"target": "main"}, d.prompts.args)
	assert.Equal(t, "approve", d.ec.Vars["verdict"])
}

func TestDispatch_PromptExtract(t *testing.T) {
	d := newTestDeps(t)
	d.prompts.result = &collab.PromptResult{Variables: map[string]any{
		"review": map[string]any{"verdict": "approve", "score": 9},
		"noise":  "dropped",
	}}
	desc := &schema.ActionDescriptor{Kind: schema.ActionPrompt, Prompt: "review", Extract: ".review"}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.NoError(t, err)

	assert.Equal(t, "approve", d.ec.Vars["verdict"])
	assert.NotContains(t, d.ec.Vars, "noise")
}

func TestDispatch_PromptExtractScalar(t *testing.T) {
	d := newTestDeps(t)
	d.prompts.result = &collab.PromptResult{Variables: map[string]any{"verdict": "approve"}}
	desc := &schema.ActionDescriptor{Kind: schema.ActionPrompt, Prompt: "review", Extract: ".verdict"}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.NoError(t, err)

	// Non-object filter results land under "result".
	assert.Equal(t, "approve", d.ec.Vars["result"])
}

func TestDispatch_SubflowMergesReturnedVars(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, Deps{
		Prompts:  &fakePrompts{result: &collab.PromptResult{}},
		Commands: &fakeCommands{result: &collab.CommandResult{}},
		Subflow: func(context.Context, string, *ExecutionContext) (json.RawMessage, error) {
			return json.RawMessage(`{"greeting":"hello","count":2}`), nil
		},
	}))

	log := &fakeLog{}
	ec := &ExecutionContext{RunID: "r-1", Workflow: "wf", State: "delegate", Vars: map[string]any{}, Log: log}
	dispatcher := NewDispatcher(registry, slog.Default())

	desc := &schema.ActionDescriptor{Kind: schema.ActionSubflow, Workflow: "inner"}
	outcome, err := dispatcher.Dispatch(context.Background(), desc, ec)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	// The child's final variables are visible to the parent's later states.
	assert.Equal(t, "hello", ec.Vars["greeting"])
	assert.Equal(t, float64(2), ec.Vars["count"])
	require.Len(t, log.entries, 1)
}

func TestDispatch_CommandInterpolatesArgs(t *testing.T) {
	d := newTestDeps(t)
	desc := &schema.ActionDescriptor{
		Kind:        schema.ActionCommand,
		Command:     "git",
		CommandArgs: []string{"checkout", "${{ branch }}"},
	}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.NoError(t, err)
	assert.Equal(t, []string{"checkout", "main"}, d.commands.args)
}

func TestDispatch_GitExitWrapsGitOperation(t *testing.T) {
	d := newTestDeps(t)
	d.commands.result = &collab.CommandResult{ExitCode: 128, Stderr: "fatal: not a git repository"}
	desc := &schema.ActionDescriptor{
		Kind:        schema.ActionCommand,
		Command:     "git",
		CommandArgs: []string{"push"},
	}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindAction, fe.Kind)

	cause, ok := fe.Cause.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindGitOperation, cause.Kind)
	assert.Contains(t, cause.Message, "push")
	assert.Contains(t, schema.FormatChain(err), "not a git repository")
}

func TestDispatch_NonGitExitStaysActionKind(t *testing.T) {
	d := newTestDeps(t)
	d.commands.result = &collab.CommandResult{ExitCode: 2, Stderr: "make: *** no rule"}
	desc := &schema.ActionDescriptor{Kind: schema.ActionCommand, Command: "make", CommandArgs: []string{"build"}}

	_, err := d.dispatcher.Dispatch(context.Background(), desc, d.ec)
	require.Error(t, err)

	fe, ok := err.(*schema.FlowError)
	require.True(t, ok)
	cause, ok := fe.Cause.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrKindAction, cause.Kind)
	assert.Contains(t, cause.Message, "exited with code 2")
}

func TestWrapActionErr_PassThrough(t *testing.T) {
	already := schema.NewError(schema.ErrKindAction, "boom").WithState("work")
	wrapped := wrapActionErr(already, &schema.ActionDescriptor{Kind: schema.ActionPrompt}, "work")
	assert.Same(t, already, wrapped)

	other := errors.New("plain")
	wrapped = wrapActionErr(other, &schema.ActionDescriptor{Kind: schema.ActionPrompt}, "work")
	fe, ok := wrapped.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, "work", fe.State)
	assert.ErrorIs(t, wrapped, other)
}
