package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

func newStatusCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the status and event log of a persisted run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Store == nil {
				return schema.NewError(schema.ErrKindConfig, "status requires a configured database (--db)")
			}

			run, err := app.Store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			events, err := app.Store.GetEvents(cmd.Context(), run.ID, 0)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s  %s  %s\n",
				styleTitle.Render(run.Workflow),
				statusStyle(run.Status).Render(string(run.Status)),
				styleFaint.Render(run.ID),
			)
			if run.Error != nil {
				fmt.Fprintf(out, "  error: %s\n", string(run.Error))
			}
			for _, e := range events {
				state := e.State
				if state == "" {
					state = "-"
				}
				fmt.Fprintf(out, "  %4d  %-20s %-18s %s\n",
					e.Sequence, state, e.Type,
					styleFaint.Render(e.Timestamp.Format("15:04:05.000")),
				)
			}
			return nil
		},
	}
}

func newListCommand(v *viper.Viper) *cobra.Command {
	var status string
	var workflow string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows and persisted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, styleTitle.Render("workflows"))
			for _, name := range app.Library.Names() {
				def, _ := app.Library.Get(name)
				title := ""
				if def != nil && def.Title != "" {
					title = "  " + styleFaint.Render(def.Title)
				}
				fmt.Fprintf(out, "  %s%s\n", name, title)
			}

			if app.Store == nil {
				return nil
			}

			filter := store.RunFilter{Workflow: workflow, Limit: limit}
			if status != "" {
				rs := schema.RunStatus(strings.ToLower(status))
				filter.Status = &rs
			}
			runs, err := app.Store.ListRuns(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return nil
			}

			fmt.Fprintln(out, styleTitle.Render("runs"))
			for _, r := range runs {
				fmt.Fprintf(out, "  %s  %-20s %s\n",
					styleFaint.Render(r.ID),
					r.Workflow,
					statusStyle(r.Status).Render(string(r.Status)),
				)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter runs by status")
	cmd.Flags().StringVar(&workflow, "workflow", "", "filter runs by workflow name")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
