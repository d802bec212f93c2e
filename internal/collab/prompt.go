package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"time"

	"github.com/renholm/stagehand/pkg/schema"
)

const (
	defaultPromptTimeout = 10 * time.Minute
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// ProcessPromptRunner executes prompts by spawning an external prompt CLI
// (an agent such as claude). The prompt name is passed as the final
// argument; prompt arguments become repeated --var key=value flags and the
// context variables are provided on stdin as JSON.
type ProcessPromptRunner struct {
	// Command is the program plus base arguments, e.g. ["claude", "-p"].
	Command []string
	// Timeout bounds a single prompt execution (default 10m).
	Timeout time.Duration
	// MaxOutputSize caps captured stdout/stderr (default 10MB).
	MaxOutputSize int64
}

// ExecutePrompt runs the prompt CLI and parses its stdout. When stdout is
// valid JSON its top-level object becomes the result variables; otherwise
// the raw text is exposed under "result".
func (r *ProcessPromptRunner) ExecutePrompt(ctx context.Context, name string, args map[string]string, contextVars map[string]any) (*PromptResult, error) {
	if len(r.Command) == 0 {
		return nil, schema.NewError(schema.ErrKindConfig, "prompt runner has no command configured")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultPromptTimeout
	}
	maxOut := r.MaxOutputSize
	if maxOut <= 0 {
		maxOut = defaultMaxOutputSize
	}

	argv := append([]string{}, r.Command[1:]...)
	for k, v := range args {
		argv = append(argv, "--var", k+"="+v)
	}
	argv = append(argv, name)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, r.Command[0], argv...)

	if len(contextVars) > 0 {
		stdin, err := json.Marshal(contextVars)
		if err != nil {
			return nil, schema.NewError(schema.ErrKindIO, "encode prompt context").WithCause(err)
		}
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: maxOut}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxOut}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrKindAction,
				"prompt %q exited with code %d: %s", name, exitErr.ExitCode(), firstLine(stderr.String())).
				WithDetails(map[string]any{
					"prompt":    name,
					"exit_code": exitErr.ExitCode(),
					"stderr":    stderr.String(),
				}).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrKindAction, "prompt %q failed to run: %v", name, err).
			WithDetails(map[string]any{"prompt": name}).WithCause(err)
	}

	result := &PromptResult{Output: stdout.String()}
	if json.Valid(stdout.Bytes()) {
		var vars map[string]any
		if err := json.Unmarshal(stdout.Bytes(), &vars); err == nil {
			result.Variables = vars
			return result, nil
		}
	}
	if result.Output != "" {
		result.Variables = map[string]any{"result": result.Output}
	}
	return result, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
