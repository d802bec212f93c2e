package actions

import (
	"log/slog"

	"github.com/renholm/stagehand/internal/collab"
)

// Deps holds the collaborators injected into the builtin actions. Subflow
// is wired by the executor after construction (late-bind).
type Deps struct {
	Prompts  collab.PromptRunner
	Commands collab.CommandRunner
	Subflow  SubflowRunner
	Logger   *slog.Logger
}

// RegisterBuiltins registers the four action kinds into the registry.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	all := []Action{
		&logAction{logger: logger},
		&promptAction{runner: deps.Prompts},
		&subflowAction{run: deps.Subflow},
		&commandAction{runner: deps.Commands},
	}
	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
