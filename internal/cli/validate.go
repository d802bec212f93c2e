package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/internal/parsing"
	"github.com/renholm/stagehand/pkg/schema"
)

func newValidateCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow|file.md>",
		Short: "Validate workflow definitions without running them",
		Long: `Validate a workflow by name from the library, or a workflow
document given as a file path. With no argument all library workflows are
validated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				exitCode = schema.OutcomeOf(err).ExitCode()
				return err
			}
			defer app.Close()

			var names []string
			if len(args) == 1 {
				if strings.HasSuffix(args[0], ".md") {
					def, err := parsing.LoadFile(args[0])
					if err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), renderError(schema.FormatChain(err)))
						exitCode = schema.OutcomeOf(err).ExitCode()
						return nil
					}
					app.Library.Add(def)
					names = []string{def.Name}
				} else {
					names = []string{args[0]}
				}
			} else {
				names = app.Library.Names()
			}

			invalid := false
			for _, name := range names {
				def, err := app.Library.Get(name)
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), renderError(schema.FormatChain(err)))
					invalid = true
					continue
				}
				result := app.Validator.Validate(def)
				fmt.Fprintln(cmd.OutOrStdout(), renderValidation(name, result))
				if !result.Valid() {
					invalid = true
				}
			}

			if invalid {
				exitCode = schema.OutcomeError.ExitCode()
			}
			return nil
		},
	}
}
