package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/renholm/stagehand/pkg/schema"
)

// Execute builds the command tree and runs it. The returned code follows
// the run outcome contract: 0 success, 1 failure, 2 abort or invalid input.
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, renderError(schema.FormatChain(err)))
		if c := schema.OutcomeOf(err).ExitCode(); c > exitCode {
			exitCode = c
		}
	}
	return exitCode
}

// exitCode is set by commands that map a run outcome to a process exit code.
var exitCode int

// NewRootCommand creates the stagehand root command.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "stagehand",
		Short: "Declarative state-machine workflow executor",
		Long: `Stagehand executes workflows defined as state diagrams in markdown
documents. Each state dispatches one action (log, execute_prompt,
run_workflow, execute_command) and follows a single outgoing transition
until the terminal marker is reached.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default .stagehand/config.yaml)")
	flags.StringSlice("workflow-dir", nil, "directories scanned for workflow documents")
	flags.String("control-dir", "", "control directory for the abort marker")
	flags.String("db", "", "libSQL database path (empty disables persistence)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	cobra.OnInitialize(func() {
		initConfig(v, root)
	})

	root.AddCommand(
		newRunCommand(v),
		newValidateCommand(v),
		newAbortCommand(v),
		newStatusCommand(v),
		newListCommand(v),
		newScheduleCommand(v),
		newServeCommand(v),
	)
	return root
}

func initConfig(v *viper.Viper, root *cobra.Command) {
	defaults := DefaultConfig()
	v.SetDefault("workflow_dirs", defaults.WorkflowDirs)
	v.SetDefault("control_dir", defaults.ControlDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	v.SetDefault("pool_size", defaults.PoolSize)
	v.SetDefault("max_depth", defaults.MaxDepth)
	v.SetDefault("prompt_command", defaults.PromptCommand)

	if cfgFile, _ := root.PersistentFlags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaults.ControlDir)
	}
	_ = v.ReadInConfig()

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	bind := map[string]string{
		"workflow_dirs": "workflow-dir",
		"control_dir":   "control-dir",
		"db_path":       "db",
		"log_level":     "log-level",
		"log_format":    "log-format",
	}
	for key, flag := range bind {
		if f := root.PersistentFlags().Lookup(flag); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// loadConfig materializes the layered configuration.
func loadConfig(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// newApp is the shared command preamble: config then wiring.
func newApp(v *viper.Viper) (*App, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg)
}
