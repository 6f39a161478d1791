package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/internal/validation"
	"github.com/agentc2/wfrt/pkg/schema"
)

func newTestServer(t *testing.T) (*Server, *store.LibSQLStore) {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "mcp.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	lookup := store.Lookup{Store: st}
	eng, err := engine.New(engine.Config{Workflows: lookup, Events: st})
	require.NoError(t, err)
	v, err := validation.New(eng, lookup)
	require.NoError(t, err)

	s := NewServer(ServerDeps{
		Runs:      runner.New(runner.Config{Engine: eng, Store: st}),
		Store:     st,
		Validator: v,
	})
	return s, st
}

// --- Helper ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, extractText(t, result))
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

func approvalDefinition() map[string]any {
	return map[string]any{
		"steps": []any{
			map[string]any{"id": "ask", "type": "human", "config": map[string]any{"prompt": "ship {{input.version}}?"}},
			map[string]any{"id": "done", "type": "transform", "inputMapping": map[string]any{"shipped": "{{ask.ok}}"}},
		},
	}
}

func startApproval(t *testing.T, s *Server) string {
	t.Helper()
	result, err := s.handleRun(context.Background(), buildRequest("wfrt.run", map[string]any{
		"definition": approvalDefinition(),
		"input":      map[string]any{"version": "1.2"},
	}))
	require.NoError(t, err)
	var view runView
	unmarshalResult(t, result, &view)
	require.Equal(t, schema.RunStatusSuspended, view.Status)
	return view.RunID
}

// --- Tests ---

func TestRunTool_InlineDefinition(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleRun(context.Background(), buildRequest("wfrt.run", map[string]any{
		"definition": map[string]any{
			"steps": []any{
				map[string]any{"id": "shape", "type": "transform", "inputMapping": map[string]any{"n": "{{input.n}}"}},
			},
		},
		"input": map[string]any{"n": 3},
	}))
	require.NoError(t, err)

	var view runView
	unmarshalResult(t, result, &view)
	assert.Equal(t, schema.RunStatusSuccess, view.Status)
	assert.JSONEq(t, `{"n":3}`, string(view.Output))
}

func TestRunTool_Suspends(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleRun(context.Background(), buildRequest("wfrt.run", map[string]any{
		"definition": approvalDefinition(),
		"input":      map[string]any{"version": "1.2"},
	}))
	require.NoError(t, err)

	var view runView
	unmarshalResult(t, result, &view)
	require.Len(t, view.Suspended, 1)
	assert.Equal(t, "ask", view.Suspended[0].Step)
	assert.Equal(t, "ship 1.2?", view.Suspended[0].Prompt)
}

func TestRunTool_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleRun(ctx, buildRequest("wfrt.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(ctx, buildRequest("wfrt.run", map[string]any{"workflow_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeNotFound)

	result, err = s.handleRun(ctx, buildRequest("wfrt.run", map[string]any{
		"definition": map[string]any{"steps": []any{map[string]any{"id": "x", "type": "teleport"}}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeDefinition)
}

func TestResumeTool(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startApproval(t, s)

	result, err := s.handleResume(context.Background(), buildRequest("wfrt.resume", map[string]any{
		"run_id": runID,
		"step":   "ask",
		"data":   map[string]any{"ok": true},
	}))
	require.NoError(t, err)

	var view runView
	unmarshalResult(t, result, &view)
	assert.Equal(t, schema.RunStatusSuccess, view.Status)
	assert.JSONEq(t, `{"shipped":true}`, string(view.Output))
}

func TestResumeTool_MissingParams(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleResume(context.Background(), buildRequest("wfrt.resume", map[string]any{"step": "ask"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleResume(context.Background(), buildRequest("wfrt.resume", map[string]any{"run_id": "r"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startApproval(t, s)

	result, err := s.handleStatus(context.Background(), buildRequest("wfrt.status", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	text := extractText(t, result)
	assert.Contains(t, text, runID)
	assert.Contains(t, text, "suspended")

	result, err = s.handleStatus(context.Background(), buildRequest("wfrt.status", map[string]any{
		"run_id":         runID,
		"include_events": true,
	}))
	require.NoError(t, err)
	var out struct {
		Run    store.Run      `json:"run"`
		Events []*store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, runID, out.Run.ID)
	require.NotEmpty(t, out.Events)
	assert.Equal(t, schema.EventRunStarted, out.Events[0].Type)
}

func TestStatusTool_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	result, err := s.handleStatus(context.Background(), buildRequest("wfrt.status", map[string]any{"run_id": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelTool(t *testing.T) {
	s, _ := newTestServer(t)
	runID := startApproval(t, s)

	result, err := s.handleCancel(context.Background(), buildRequest("wfrt.cancel", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	var view runView
	unmarshalResult(t, result, &view)
	assert.Equal(t, schema.RunStatusFailed, view.Status)
	require.NotNil(t, view.Error)
	assert.Equal(t, schema.ErrCodeCancelled, view.Error.Code)

	result, err = s.handleCancel(context.Background(), buildRequest("wfrt.cancel", map[string]any{"run_id": runID}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), schema.ErrCodeConflict)
}

func TestDefineTool(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	req := buildRequest("wfrt.define", map[string]any{
		"id":          "release",
		"name":        "release approval",
		"description": "asks before shipping",
		"definition":  approvalDefinition(),
	})
	result, err := s.handleDefine(ctx, req)
	require.NoError(t, err)
	var out struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "release", out.ID)
	assert.Equal(t, 1, out.Version)

	result, err = s.handleDefine(ctx, req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, 2, out.Version)

	wf, err := st.GetWorkflow(ctx, "release")
	require.NoError(t, err)
	assert.Equal(t, "release approval", wf.Name)
	assert.Equal(t, "asks before shipping", wf.Description)

	result, err = s.handleRun(ctx, buildRequest("wfrt.run", map[string]any{"workflow_id": "release"}))
	require.NoError(t, err)
	var view runView
	unmarshalResult(t, result, &view)
	assert.Equal(t, schema.RunStatusSuspended, view.Status)
}

func TestDefineTool_Invalid(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleDefine(ctx, buildRequest("wfrt.define", map[string]any{"id": "x"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleDefine(ctx, buildRequest("wfrt.define", map[string]any{
		"id":         "x",
		"definition": map[string]any{"steps": []any{map[string]any{"id": "call", "type": "tool", "config": map[string]any{}}}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "toolId")
}

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleValidate(ctx, buildRequest("wfrt.validate", map[string]any{"definition": approvalDefinition()}))
	require.NoError(t, err)
	var out struct {
		Valid    bool                     `json:"valid"`
		Errors   []schema.ValidationIssue `json:"errors"`
		Warnings []schema.ValidationIssue `json:"warnings"`
	}
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)

	result, err = s.handleValidate(ctx, buildRequest("wfrt.validate", map[string]any{
		"document": "steps:\n  - id: a\n    type: nope\n",
	}))
	require.NoError(t, err)
	out.Valid = true
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, "/steps/0/type", out.Errors[0].Path)

	result, err = s.handleValidate(ctx, buildRequest("wfrt.validate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListTool(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	runID := startApproval(t, s)

	result, err := s.handleList(ctx, buildRequest("wfrt.list", map[string]any{"resource": "runs"}))
	require.NoError(t, err)
	var runs struct {
		Runs []store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &runs)
	require.Len(t, runs.Runs, 1)
	assert.Equal(t, runID, runs.Runs[0].ID)

	result, err = s.handleList(ctx, buildRequest("wfrt.list", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"status": "success"},
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &runs)
	assert.Empty(t, runs.Runs)

	result, err = s.handleList(ctx, buildRequest("wfrt.list", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": runID, "since": float64(1)},
	}))
	require.NoError(t, err)
	var events struct {
		Events []store.Event `json:"events"`
	}
	unmarshalResult(t, result, &events)
	require.NotEmpty(t, events.Events)
	assert.Equal(t, int64(2), events.Events[0].Sequence)

	result, err = s.handleList(ctx, buildRequest("wfrt.list", map[string]any{"resource": "workflows"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestListTool_Errors(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleList(ctx, buildRequest("wfrt.list", map[string]any{"resource": "templates"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleList(ctx, buildRequest("wfrt.list", map[string]any{"resource": "events"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
