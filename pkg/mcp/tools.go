package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/renholm/stagehand/internal/store"
	"github.com/renholm/stagehand/pkg/schema"
)

// handleRun executes a named workflow to its terminal status.
func (s *StagehandServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	vars := mcp.ParseStringMap(req, "vars", nil)

	// A marker appearing mid-run cancels in-flight collaborator
	// subprocesses instead of waiting for the next state entry.
	runCtx, stopWatch := s.monitor.Context(ctx, 0)
	defer stopWatch()

	result, runErr := s.executor.Run(runCtx, workflow, vars)
	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow execution failed: %v", runErr)), nil
	}

	payload := map[string]any{
		"run_id":   result.RunID,
		"workflow": result.Workflow,
		"status":   result.Status,
		"outcome":  int(result.Outcome()),
		"vars":     result.Vars,
		"log":      result.Log,
	}
	if runErr != nil {
		payload["error"] = schema.FormatChain(runErr)
	}
	return marshalResult(payload)
}

// handleStatus returns the persisted run record plus its event log.
func (s *StagehandServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no run store configured"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}
	events, evErr := s.store.GetEvents(ctx, runID, 0)
	if evErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event lookup failed: %v", evErr)), nil
	}

	return marshalResult(map[string]any{
		"run":    run,
		"events": events,
	})
}

// handleValidate validates a workflow definition without running it.
func (s *StagehandServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	def, getErr := s.library.Get(workflow)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", getErr)), nil
	}

	result := s.validator.Validate(def)
	return marshalResult(map[string]any{
		"workflow": workflow,
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleAbort creates the abort marker so every running instance stops
// before its next state entry.
func (s *StagehandServer) handleAbort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	reason, err := req.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError("reason is required"), nil
	}

	if sigErr := s.monitor.Signal(reason); sigErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("abort signal failed: %v", sigErr)), nil
	}
	return marshalResult(map[string]any{
		"ok":     true,
		"reason": s.monitor.Reason(),
	})
}

// handleQuery lists workflows or runs based on filters.
func (s *StagehandServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return marshalResult(map[string]any{"workflows": s.library.Names()})
	case "runs":
		return s.queryRuns(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *StagehandServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no run store configured"), nil
	}
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", 50),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if workflow, ok := filter["workflow"].(string); ok {
		rf.Workflow = workflow
	}

	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
