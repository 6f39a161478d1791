package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// runView is the result of run, resume and cancel.
type runView struct {
	RunID     string              `json:"run_id"`
	Status    schema.RunStatus    `json:"status"`
	Output    json.RawMessage     `json:"output,omitempty"`
	Suspended []schema.Suspension `json:"suspended,omitempty"`
	Error     *schema.FlowError   `json:"error,omitempty"`
}

func viewOf(run *store.Run) runView {
	v := runView{RunID: run.ID, Status: run.Status, Output: run.Output, Error: run.Error}
	if run.State != nil && run.Status == schema.RunStatusSuspended {
		v.Suspended = run.State.Suspended
	}
	return v
}

// handleRun executes a stored workflow or an inline definition.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := runner.StartRequest{
		WorkflowID: req.GetString("workflow_id", ""),
		Input:      mcp.ParseStringMap(req, "input", nil),
	}
	if raw, ok := req.GetArguments()["definition"]; ok && raw != nil {
		data, err := documentBytes(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def, err := schema.ParseDefinition(data)
		if err != nil {
			return toolError("invalid definition", err), nil
		}
		start.Definition = def
	}

	run, err := s.runs.Start(ctx, start)
	if err != nil {
		return toolError("run failed", err), nil
	}
	return marshalResult(viewOf(run))
}

// handleResume settles one suspended step and continues the run.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	step, err := req.RequireString("step")
	if err != nil {
		return mcp.NewToolResultError("step is required"), nil
	}

	run, resumeErr := s.runs.Resume(ctx, runID, runner.ResumeRequest{
		Step: step,
		Data: req.GetArguments()["data"],
	})
	if resumeErr != nil {
		return toolError("resume failed", resumeErr), nil
	}
	return marshalResult(viewOf(run))
}

// handleStatus returns the persisted run, optionally with its events.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.runs.Get(ctx, runID)
	if getErr != nil {
		return toolError("status query failed", getErr), nil
	}
	if !req.GetBool("include_events", false) {
		return marshalResult(run)
	}

	events, evErr := s.runs.Events(ctx, runID, 0)
	if evErr != nil {
		return toolError("event query failed", evErr), nil
	}
	return marshalResult(map[string]any{"run": run, "events": events})
}

// handleCancel cancels an active or suspended run.
func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	run, cancelErr := s.runs.Cancel(ctx, runID)
	if cancelErr != nil {
		return toolError("cancel failed", cancelErr), nil
	}
	return marshalResult(viewOf(run))
}

// handleDefine validates a definition and stores it under id.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	raw, ok := req.GetArguments()["definition"]
	if !ok || raw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	data, err := documentBytes(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	def, result := s.validator.ValidateDocument(ctx, data)
	if result.Valid() && def.ID != id {
		def.ID = id
		result = s.validator.Validate(ctx, def)
	}
	if !result.Valid() {
		return toolError("invalid definition", result.ToError()), nil
	}

	name := req.GetString("name", def.Name)
	wf := &store.StoredWorkflow{
		ID:          id,
		Name:        name,
		Description: req.GetString("description", def.Description),
		Definition:  *def,
	}
	if putErr := s.store.PutWorkflow(ctx, wf); putErr != nil {
		return toolError("store workflow failed", putErr), nil
	}
	s.logger.InfoContext(ctx, "workflow defined", "workflow_id", id, "version", wf.Version)

	return marshalResult(map[string]any{
		"id":       wf.ID,
		"name":     wf.Name,
		"version":  wf.Version,
		"warnings": result.Warnings,
	})
}

// handleValidate checks a definition object or a YAML/JSON document.
func (s *Server) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	raw := args["definition"]
	if raw == nil {
		raw = args["document"]
	}
	if raw == nil {
		return mcp.NewToolResultError("definition or document is required"), nil
	}
	data, err := documentBytes(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	_, result := s.validator.ValidateDocument(ctx, data)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleList lists runs, stored workflows or one run's events.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", map[string]any{})

	switch resource {
	case "runs":
		rf := store.RunFilter{
			WorkflowID: stringField(filter, "workflow_id"),
			Limit:      intField(filter, "limit", 50),
		}
		if v := stringField(filter, "status"); v != "" {
			status := schema.RunStatus(v)
			rf.Status = &status
		}
		if v := stringField(filter, "since"); v != "" {
			since, parseErr := time.Parse(time.RFC3339, v)
			if parseErr != nil {
				return mcp.NewToolResultError("since must be an RFC 3339 timestamp"), nil
			}
			rf.Since = &since
		}
		runs, listErr := s.runs.List(ctx, rf)
		if listErr != nil {
			return toolError("list runs failed", listErr), nil
		}
		return marshalResult(map[string]any{"runs": runs})

	case "workflows":
		wfs, listErr := s.store.ListWorkflows(ctx)
		if listErr != nil {
			return toolError("list workflows failed", listErr), nil
		}
		return marshalResult(map[string]any{"workflows": wfs})

	case "events":
		runID := stringField(filter, "run_id")
		if runID == "" {
			return mcp.NewToolResultError("filter.run_id is required for events"), nil
		}
		events, evErr := s.runs.Events(ctx, runID, int64(intField(filter, "since", 0)))
		if evErr != nil {
			return toolError("list events failed", evErr), nil
		}
		return marshalResult(map[string]any{"events": events})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource %q", resource)), nil
	}
}

// --- Helpers ---

// documentBytes accepts a definition as an object or as YAML/JSON text.
func documentBytes(v any) ([]byte, error) {
	if text, ok := v.(string); ok {
		return []byte(text), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %v", err)
	}
	return data, nil
}

// toolError reports err to the caller, keeping the error code visible.
func toolError(prefix string, err error) *mcp.CallToolResult {
	if fe, ok := schema.AsFlowError(err); ok {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, fe.Code, fe.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
