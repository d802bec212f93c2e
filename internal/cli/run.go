package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/pkg/schema"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	var vars []string
	var clearAbort bool

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Execute a workflow to its terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				exitCode = schema.OutcomeOf(err).ExitCode()
				return err
			}
			defer app.Close()

			if clearAbort {
				if err := app.Monitor.Clear(); err != nil {
					return err
				}
			}

			name := args[0]
			def, err := app.Library.Get(name)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), renderError(schema.FormatChain(err)))
				exitCode = schema.OutcomeOf(err).ExitCode()
				return nil
			}
			if err := app.Validator.ValidateDefinition(def); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), renderError(schema.FormatChain(err)))
				exitCode = schema.OutcomeOf(err).ExitCode()
				return nil
			}

			initial, err := parseVars(vars)
			if err != nil {
				exitCode = schema.OutcomeOf(err).ExitCode()
				return err
			}

			// A marker appearing mid-run cancels in-flight collaborator
			// subprocesses instead of waiting for the next state entry.
			runCtx, stopWatch := app.Monitor.Context(cmd.Context(), 0)
			defer stopWatch()

			result, runErr := app.Executor.Run(runCtx, name, initial)
			if result != nil {
				fmt.Fprintln(cmd.OutOrStdout(), renderRunSummary(result))
			}
			if runErr != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), renderError(schema.FormatChain(runErr)))
			}
			exitCode = schema.OutcomeOf(runErr).ExitCode()
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial context variable, key=value (repeatable)")
	cmd.Flags().BoolVar(&clearAbort, "fresh", false, "clear a stale abort marker before starting")
	return cmd
}

// parseVars converts key=value pairs into the initial context.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, schema.NewErrorf(schema.ErrKindConfig, "invalid --var %q, expected key=value", p)
		}
		out[key] = val
	}
	return out, nil
}
