package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/renholm/stagehand/internal/abort"
	"github.com/renholm/stagehand/internal/engine"
	"github.com/renholm/stagehand/internal/parsing"
	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/internal/validation"
)

// StagehandServerDeps holds the dependencies for creating a StagehandServer.
type StagehandServerDeps struct {
	Executor  *engine.Executor
	Library   *parsing.Library
	Validator *validation.DefinitionValidator
	Monitor   *abort.Monitor
	Store     store.Store
	Logger    *slog.Logger
}

// StagehandServer wraps an MCP server with workflow tool handlers so agents
// can launch, inspect, and abort runs over stdio.
type StagehandServer struct {
	executor  *engine.Executor
	library   *parsing.Library
	validator *validation.DefinitionValidator
	monitor   *abort.Monitor
	store     store.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewStagehandServer creates a StagehandServer with all tools registered.
func NewStagehandServer(deps StagehandServerDeps) *StagehandServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &StagehandServer{
		executor:  deps.Executor,
		library:   deps.Library,
		validator: deps.Validator,
		monitor:   deps.Monitor,
		store:     deps.Store,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"stagehand",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stagehand executes declarative state-machine workflows. Use stagehand.run to execute a workflow, stagehand.status to inspect a run, stagehand.validate to check a definition, stagehand.abort to cancel running instances, and stagehand.query to list workflows and runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *StagehandServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *StagehandServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *StagehandServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: abortTool(), Handler: s.handleAbort},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("stagehand.run",
		mcp.WithDescription("Execute a named workflow to its terminal status"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to execute")),
		mcp.WithObject("vars", mcp.Description("Initial context variables for the run")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("stagehand.status",
		mcp.WithDescription("Get the status and event log of a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("stagehand.validate",
		mcp.WithDescription("Validate a workflow definition without running it"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to validate")),
	)
}

func abortTool() mcp.Tool {
	return mcp.NewTool("stagehand.abort",
		mcp.WithDescription("Signal cooperative cancellation of all running instances"),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Human-readable abort reason")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("stagehand.query",
		mcp.WithDescription("Query workflows or runs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "runs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow, limit)")),
	)
}
