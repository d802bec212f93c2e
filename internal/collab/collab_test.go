package collab

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renholm/stagehand/pkg/schema"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestProcessCommandRunner_Success(t *testing.T) {
	skipOnWindows(t)
	r := &ProcessCommandRunner{}

	result, err := r.ExecuteCommand(context.Background(), "sh", []string{"-c", "echo out; echo err >&2"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
}

func TestProcessCommandRunner_NonZeroExitIsNotAnError(t *testing.T) {
	skipOnWindows(t)
	r := &ProcessCommandRunner{}

	result, err := r.ExecuteCommand(context.Background(), "sh", []string{"-c", "exit 3"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestProcessCommandRunner_MissingBinary(t *testing.T) {
	r := &ProcessCommandRunner{}

	_, err := r.ExecuteCommand(context.Background(), "definitely-not-a-real-binary-xyz", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindIO, schema.KindOf(err))
}

func TestProcessCommandRunner_WorkingDirectory(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	r := &ProcessCommandRunner{Dir: dir}

	result, err := r.ExecuteCommand(context.Background(), "pwd", nil)
	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
}

func TestProcessPromptRunner_NoCommand(t *testing.T) {
	r := &ProcessPromptRunner{}

	_, err := r.ExecutePrompt(context.Background(), "review", nil, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindConfig, schema.KindOf(err))
}

func TestProcessPromptRunner_JSONOutput(t *testing.T) {
	skipOnWindows(t)
	// The fake agent echoes a JSON object regardless of the prompt.
	r := &ProcessPromptRunner{Command: []string{"sh", "-c", `echo '{"verdict":"approve"}'`}}

	result, err := r.ExecutePrompt(context.Background(), "review", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"verdict": "approve"}, result.Variables)
}

func TestProcessPromptRunner_PlainTextOutput(t *testing.T) {
	skipOnWindows(t)
	r := &ProcessPromptRunner{Command: []string{"sh", "-c", "printf looks-fine"}}

	result, err := r.ExecutePrompt(context.Background(), "review", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "looks-fine", result.Output)
	assert.Equal(t, map[string]any{"result": "looks-fine"}, result.Variables)
}

func TestProcessPromptRunner_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	r := &ProcessPromptRunner{Command: []string{"sh", "-c", "echo broken >&2; exit 2"}}

	_, err := r.ExecutePrompt(context.Background(), "review", nil, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrKindAction, schema.KindOf(err))
	assert.Contains(t, err.Error(), "exited with code 2")
	assert.Contains(t, err.Error(), "broken")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Equal(t, "only", firstLine("only"))
	assert.Equal(t, "", firstLine(""))
}
