package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/internal/scheduler"
	"github.com/renholm/stagehand/pkg/mcp"
	"github.com/renholm/stagehand/pkg/schema"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	var withScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve workflow tools over MCP stdio",
		Long: `Expose run, status, validate, abort and query tools over the Model
Context Protocol stdio transport so agent collaborators can drive
workflows directly. With --scheduler the cron scheduler runs alongside.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(v)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if withScheduler {
				if app.Store == nil {
					return schema.NewError(schema.ErrKindConfig, "--scheduler requires a configured database (--db)")
				}
				sched := scheduler.NewScheduler(app.Store, app.Executor, app.Config.PoolSize, app.Logger)
				if err := sched.RecoverMissed(ctx); err != nil {
					app.Logger.Warn("recover missed jobs", "error", err.Error())
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()
			}

			srv := mcp.NewStagehandServer(mcp.StagehandServerDeps{
				Executor:  app.Executor,
				Library:   app.Library,
				Validator: app.Validator,
				Monitor:   app.Monitor,
				Store:     storeOf(app),
				Logger:    app.Logger,
			})
			return srv.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&withScheduler, "scheduler", false, "run the cron scheduler alongside the server")
	return cmd
}
