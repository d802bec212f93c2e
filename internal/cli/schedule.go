package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

func newScheduleCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron-scheduled workflow runs",
	}
	cmd.AddCommand(
		newScheduleAddCommand(v),
		newScheduleListCommand(v),
		newScheduleRemoveCommand(v),
	)
	return cmd
}

func newScheduleAddCommand(v *viper.Viper) *cobra.Command {
	var cronExpr string
	var vars []string

	cmd := &cobra.Command{
		Use:   "add <workflow>",
		Short: "Schedule a workflow on a cron expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Store == nil {
				return schema.NewError(schema.ErrKindConfig, "schedule requires a configured database (--db)")
			}
			if _, err := app.Library.Get(args[0]); err != nil {
				return err
			}

			parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
			schedule, err := parser.Parse(cronExpr)
			if err != nil {
				return schema.NewErrorf(schema.ErrKindConfig, "invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
			}

			initial, err := parseVars(vars)
			if err != nil {
				return err
			}
			var varsJSON json.RawMessage
			if initial != nil {
				varsJSON, _ = json.Marshal(initial)
			}

			next := schedule.Next(time.Now().UTC())
			job := &store.ScheduledJob{
				ID:             uuid.NewString(),
				Workflow:       args[0],
				CronExpression: cronExpr,
				Vars:           varsJSON,
				Enabled:        true,
				NextRunAt:      &next,
			}
			if err := app.Store.CreateScheduledJob(cmd.Context(), job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s (%s), next run %s\n",
				args[0], job.ID, next.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (5 fields)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial context variable, key=value (repeatable)")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func newScheduleListCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Store == nil {
				return schema.NewError(schema.ErrKindConfig, "schedule requires a configured database (--db)")
			}

			jobs, err := app.Store.ListScheduledJobs(cmd.Context(), store.ScheduledJobFilter{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, j := range jobs {
				state := "enabled"
				if !j.Enabled {
					state = "disabled"
				}
				next := "-"
				if j.NextRunAt != nil {
					next = j.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%s  %-20s %-16s %-9s next %s\n",
					styleFaint.Render(j.ID), j.Workflow, j.CronExpression, state, next)
			}
			return nil
		},
	}
}

func newScheduleRemoveCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			if app.Store == nil {
				return schema.NewError(schema.ErrKindConfig, "schedule requires a configured database (--db)")
			}
			if err := app.Store.DeleteScheduledJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}
