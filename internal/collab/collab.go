package collab

import (
	"context"
	"io"
)

// PromptResult is the outcome of a prompt execution.
type PromptResult struct {
	// Output is the raw text the collaborator produced.
	Output string
	// Variables holds structured data parsed from the output, merged into
	// the instance context by the dispatcher.
	Variables map[string]any
}

// PromptRunner executes a named prompt with arguments and the current
// context variables. Timeouts and retries are the runner's concern; the
// executor treats any failure as an ordinary action error.
type PromptRunner interface {
	ExecutePrompt(ctx context.Context, name string, args map[string]string, contextVars map[string]any) (*PromptResult, error)
}

// CommandResult is the outcome of an external command execution.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes an external command (git, issue tooling). A
// non-zero exit is reported through CommandResult, not an error; errors are
// reserved for failures to run the command at all.
type CommandRunner interface {
	ExecuteCommand(ctx context.Context, name string, args []string) (*CommandResult, error)
}

// limitedWriter wraps a writer and silently discards bytes beyond the limit.
// Write always reports the full len(p) consumed to prevent the subprocess
// from blocking on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
