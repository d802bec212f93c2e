package collab

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/renholm/stagehand/pkg/schema"
)

const defaultCommandTimeout = 5 * time.Minute

// ProcessCommandRunner executes external commands (git, issue tooling) as
// subprocesses, capturing stdout, stderr and the exit code.
type ProcessCommandRunner struct {
	// Dir is the working directory ("" = inherit).
	Dir string
	// Timeout bounds a single command (default 5m).
	Timeout time.Duration
	// MaxOutputSize caps captured output (default 10MB).
	MaxOutputSize int64
}

// ExecuteCommand runs the command. A non-zero exit is reported in the
// result, not as an error; the action layer decides how to classify it.
func (r *ProcessCommandRunner) ExecuteCommand(ctx context.Context, name string, args []string) (*CommandResult, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	maxOut := r.MaxOutputSize
	if maxOut <= 0 {
		maxOut = defaultMaxOutputSize
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: maxOut}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxOut}

	runErr := cmd.Run()
	result := &CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, schema.NewErrorf(schema.ErrKindIO, "run command %q: %v", name, runErr).WithCause(runErr)
	}
	return result, nil
}
