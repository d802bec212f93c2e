package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/renholm/stagehand/internal/abort"
	"github.com/renholm/stagehand/internal/actions"
	"github.com/renholm/stagehand/internal/collab"
	"github.com/renholm/stagehand/internal/engine"
	"github.com/renholm/stagehand/internal/logging"
	"github.com/renholm/stagehand/internal/parsing"
	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/internal/validation"
)

// Config holds runtime configuration. Priority: flags > env (STAGEHAND_*) >
// config file > defaults.
type Config struct {
	WorkflowDirs  []string `mapstructure:"workflow_dirs"`
	ControlDir    string   `mapstructure:"control_dir"`
	DBPath        string   `mapstructure:"db_path"`
	LogLevel      string   `mapstructure:"log_level"`
	LogFormat     string   `mapstructure:"log_format"`
	PoolSize      int      `mapstructure:"pool_size"`
	MaxDepth      int      `mapstructure:"max_depth"`
	PromptCommand string   `mapstructure:"prompt_command"`
	PromptTimeout string   `mapstructure:"prompt_timeout"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		WorkflowDirs:  []string{"workflows"},
		ControlDir:    ".stagehand",
		LogLevel:      "info",
		LogFormat:     "text",
		PoolSize:      4,
		MaxDepth:      engine.DefaultMaxDepth,
		PromptCommand: "claude -p",
	}
}

// App wires the full engine behind the CLI commands.
type App struct {
	Config    Config
	Logger    *slog.Logger
	Library   *parsing.Library
	Validator *validation.DefinitionValidator
	Monitor   *abort.Monitor
	Store     *store.LibSQLStore
	EventLog  *store.EventLog
	Executor  *engine.Executor
}

// NewApp builds an App from the given configuration. The store is opened
// only when a database path is configured; everything else degrades to
// ephemeral in-memory execution.
func NewApp(cfg Config) (*App, error) {
	logger := newLogger(cfg)

	library, err := parsing.NewLibrary(cfg.WorkflowDirs...)
	if err != nil {
		return nil, err
	}

	validator, err := validation.NewDefinitionValidator()
	if err != nil {
		return nil, err
	}

	monitor := abort.NewMonitor(cfg.ControlDir)

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Library:   library,
		Validator: validator,
		Monitor:   monitor,
	}

	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(context.Background()); err != nil {
			st.Close()
			return nil, err
		}
		app.Store = st
		app.EventLog = store.NewEventLog(st)
	}

	registry := actions.NewRegistry()
	dispatcher := actions.NewDispatcher(registry, logger)

	var (
		runStore store.Store
		appender engine.EventAppender
	)
	if app.Store != nil {
		runStore = app.Store
		appender = app.EventLog
	}

	app.Executor = engine.NewExecutor(engine.Options{
		Library:    library,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Store:      runStore,
		Appender:   appender,
		Logger:     logger,
		MaxDepth:   cfg.MaxDepth,
	})

	promptTimeout := 10 * time.Minute
	if cfg.PromptTimeout != "" {
		if d, err := time.ParseDuration(cfg.PromptTimeout); err == nil {
			promptTimeout = d
		}
	}

	deps := actions.Deps{
		Prompts: &collab.ProcessPromptRunner{
			Command: strings.Fields(cfg.PromptCommand),
			Timeout: promptTimeout,
		},
		Commands: &collab.ProcessCommandRunner{},
		Subflow:  app.Executor.RunSubflow,
		Logger:   logger,
	}
	if err := actions.RegisterBuiltins(registry, deps); err != nil {
		return nil, err
	}

	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() error {
	if a.Store != nil {
		return a.Store.Close()
	}
	return nil
}

// storeOf returns the app's store as the Store interface, nil when
// persistence is disabled. Avoids handing out a typed-nil interface.
func storeOf(a *App) store.Store {
	if a.Store == nil {
		return nil
	}
	return a.Store
}

// newMonitor builds an abort monitor without the rest of the app wiring.
func newMonitor(cfg Config) *abort.Monitor {
	return abort.NewMonitor(cfg.ControlDir)
}

func newLogger(cfg Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
