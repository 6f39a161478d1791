package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/internal/streaming"
	"github.com/agentc2/wfrt/internal/validation"
	"github.com/agentc2/wfrt/pkg/schema"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type apiHarness struct {
	handler http.Handler
	store   *store.LibSQLStore
	hub     *streaming.MemoryHub
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	lookup := store.Lookup{Store: st}
	tools := engine.ToolFunc(func(_ context.Context, toolID string, args map[string]any) (any, error) {
		if toolID == "broken" {
			return nil, errors.New("upstream unavailable")
		}
		return map[string]any{"echo": args}, nil
	})
	hub := streaming.NewMemoryHub()
	events := streaming.PublishingAppender{Next: st, Hub: hub}
	eng, err := engine.New(engine.Config{Tools: tools, Workflows: lookup, Events: events})
	require.NoError(t, err)
	v, err := validation.New(eng, lookup)
	require.NoError(t, err)

	srv := NewServer(Deps{
		Runs:      runner.New(runner.Config{Engine: eng, Store: st}),
		Store:     st,
		Validator: v,
		Hub:       hub,
	})
	return &apiHarness{handler: srv.Handler(), store: st, hub: hub}
}

func (h *apiHarness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error in %v", body)
	code, _ := e["code"].(string)
	return code
}

const approvalDef = `{
	"steps": [
		{"id": "ask", "type": "human", "config": {"prompt": "approve?"}},
		{"id": "result", "type": "transform", "inputMapping": {"ok": "{{ask.approved}}"}}
	]
}`

func TestHealthz(t *testing.T) {
	h := newAPI(t)
	rec, body := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStartRun_Success(t *testing.T) {
	h := newAPI(t)
	rec, body := h.do(t, http.MethodPost, "/v1/runs", `{
		"definition": {"steps": [{"id": "shape", "type": "transform", "inputMapping": {"v": "{{input.n}}"}}]},
		"input": {"n": 4}
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, map[string]any{"v": float64(4)}, body["output"])
	assert.NotEmpty(t, body["runId"])
}

func TestStartRun_SuspendedReturnsDescriptors(t *testing.T) {
	h := newAPI(t)
	rec, body := h.do(t, http.MethodPost, "/v1/runs", `{"definition": `+approvalDef+`}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "suspended", body["status"])
	suspended, ok := body["suspended"].([]any)
	require.True(t, ok)
	require.Len(t, suspended, 1)
	first := suspended[0].(map[string]any)
	assert.Equal(t, "ask", first["step"])
	assert.Equal(t, "approve?", first["prompt"])
}

func TestStartRun_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{
			name:   "invalid definition",
			body:   `{"definition": {"steps": [{"id": "x", "type": "teleport"}]}}`,
			status: http.StatusBadRequest,
			code:   schema.ErrCodeDefinition,
		},
		{
			name:   "missing definition",
			body:   `{"input": {}}`,
			status: http.StatusBadRequest,
			code:   schema.ErrCodeValidation,
		},
		{
			name:   "unknown stored workflow",
			body:   `{"workflowId": "nope"}`,
			status: http.StatusNotFound,
			code:   schema.ErrCodeNotFound,
		},
		{
			name:   "malformed json",
			body:   `{"definition": `,
			status: http.StatusBadRequest,
			code:   schema.ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPI(t)
			rec, body := h.do(t, http.MethodPost, "/v1/runs", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestStartRun_FailedRunCarriesStep(t *testing.T) {
	h := newAPI(t)
	rec, body := h.do(t, http.MethodPost, "/v1/runs", `{
		"definition": {"steps": [{"id": "call", "type": "tool", "config": {"toolId": "broken"}}]}
	}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "failed", body["status"])
	e := body["error"].(map[string]any)
	assert.Equal(t, schema.ErrCodeExecution, e["code"])
	assert.Equal(t, "call", e["step"])
	assert.Contains(t, e["message"], "upstream unavailable")
}

func TestResumeRun(t *testing.T) {
	h := newAPI(t)
	_, started := h.do(t, http.MethodPost, "/v1/runs", `{"definition": `+approvalDef+`}`)
	id := started["runId"].(string)

	rec, body := h.do(t, http.MethodPost, "/v1/runs/"+id+"/resume", `{"step": "ask", "data": {"approved": true}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, map[string]any{"ok": true}, body["output"])

	rec, body = h.do(t, http.MethodPost, "/v1/runs/"+id+"/resume", `{"step": "ask"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, schema.ErrCodeConflict, errorCode(t, body))
}

func TestRuns_OutliveClientDisconnect(t *testing.T) {
	h := newAPI(t)
	send := func(path, body string) map[string]any {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		req := httptest.NewRequestWithContext(ctx, http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		return out
	}

	started := send("/v1/runs", `{"definition": `+approvalDef+`}`)
	assert.Equal(t, "suspended", started["status"])

	resumed := send("/v1/runs/"+started["runId"].(string)+"/resume", `{"step": "ask", "data": {"approved": true}}`)
	assert.Equal(t, "success", resumed["status"])
	assert.Equal(t, map[string]any{"ok": true}, resumed["output"])
}

func TestResumeRun_RequiresStep(t *testing.T) {
	h := newAPI(t)
	rec, _ := h.do(t, http.MethodPost, "/v1/runs/abc/resume", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRun(t *testing.T) {
	h := newAPI(t)
	_, started := h.do(t, http.MethodPost, "/v1/runs", `{"definition": `+approvalDef+`}`)
	id := started["runId"].(string)

	rec, body := h.do(t, http.MethodPost, "/v1/runs/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "failed", body["status"])

	rec, _ = h.do(t, http.MethodPost, "/v1/runs/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetRunAndEvents(t *testing.T) {
	h := newAPI(t)
	_, started := h.do(t, http.MethodPost, "/v1/runs", `{"definition": `+approvalDef+`}`)
	id := started["runId"].(string)

	rec, body := h.do(t, http.MethodGet, "/v1/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "suspended", body["status"])

	rec, body = h.do(t, http.MethodGet, "/v1/runs/"+id+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := body["events"].([]any)
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventRunStarted, events[0].(map[string]any)["event_type"])

	rec, body = h.do(t, http.MethodGet, "/v1/runs/"+id+"/events?since=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["events"], len(events)-1)

	rec, _ = h.do(t, http.MethodGet, "/v1/runs/"+id+"/events?since=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/v1/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/v1/runs/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	h := newAPI(t)
	h.do(t, http.MethodPost, "/v1/runs", `{"definition": `+approvalDef+`}`)
	h.do(t, http.MethodPost, "/v1/runs", `{"definition": {"steps": [{"id": "a", "type": "transform"}]}}`)

	rec, body := h.do(t, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["runs"], 2)

	_, body = h.do(t, http.MethodGet, "/v1/runs?status=suspended", "")
	assert.Len(t, body["runs"], 1)

	_, body = h.do(t, http.MethodGet, "/v1/runs?status=running", "")
	assert.Empty(t, body["runs"])

	rec, _ = h.do(t, http.MethodGet, "/v1/runs?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWorkflowCRUD(t *testing.T) {
	h := newAPI(t)

	rec, body := h.do(t, http.MethodPut, "/v1/workflows/approval", `{"name": "approval", "definition": `+approvalDef+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	wf := body["workflow"].(map[string]any)
	assert.Equal(t, float64(1), wf["version"])

	rec, body = h.do(t, http.MethodPut, "/v1/workflows/approval", `{"definition": `+approvalDef+`}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["workflow"].(map[string]any)["version"])

	rec, body = h.do(t, http.MethodGet, "/v1/workflows/approval", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "approval", body["id"])

	_, body = h.do(t, http.MethodGet, "/v1/workflows", "")
	assert.Len(t, body["workflows"], 1)

	rec, body = h.do(t, http.MethodPost, "/v1/runs", `{"workflowId": "approval"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "suspended", body["status"])

	rec, _ = h.do(t, http.MethodDelete, "/v1/workflows/approval", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec, _ = h.do(t, http.MethodGet, "/v1/workflows/approval", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = h.do(t, http.MethodDelete, "/v1/workflows/approval", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutWorkflow_Invalid(t *testing.T) {
	h := newAPI(t)

	rec, body := h.do(t, http.MethodPut, "/v1/workflows/bad", `{"definition": {"steps": [{"id": "a", "type": "tool"}]}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, schema.ErrCodeValidation, errorCode(t, body))

	rec, _ = h.do(t, http.MethodPut, "/v1/workflows/bad", `{"name": "bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutWorkflow_RejectsSelfInvocation(t *testing.T) {
	h := newAPI(t)
	rec, body := h.do(t, http.MethodPut, "/v1/workflows/loop", `{
		"definition": {"steps": [{"id": "again", "type": "workflow", "config": {"workflowId": "loop"}}]}
	}`)
	require.Equal(t, http.StatusOK, rec.Code, "unstored targets only warn")
	assert.NotEmpty(t, body["warnings"])

	rec, body = h.do(t, http.MethodPut, "/v1/workflows/loop", `{
		"definition": {"steps": [{"id": "again", "type": "workflow", "config": {"workflowId": "loop"}}]}
	}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), schema.ErrCodeCyclicInvocation)
}

func TestValidateEndpoint(t *testing.T) {
	h := newAPI(t)

	rec, body := h.do(t, http.MethodPost, "/v1/workflows/validate", approvalDef)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	assert.Empty(t, body["errors"])

	yamlDef := strings.Join([]string{
		"steps:",
		"  - id: first",
		"    type: transform",
		"    inputMapping:",
		"      x: \"{{later.value}}\"",
		"  - id: later",
		"    type: transform",
	}, "\n")
	rec, body = h.do(t, http.MethodPost, "/v1/workflows/validate", yamlDef)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	assert.Len(t, body["warnings"], 1)

	_, body = h.do(t, http.MethodPost, "/v1/workflows/validate", `{"steps": []}`)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["errors"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(schema.ErrCodeDefinition))
	assert.Equal(t, http.StatusBadRequest, statusFor(schema.ErrCodeValidation))
	assert.Equal(t, http.StatusNotFound, statusFor(schema.ErrCodeNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(schema.ErrCodeCancelled))
	assert.Equal(t, http.StatusConflict, statusFor(schema.ErrCodeConflict))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(schema.ErrCodeTimeout))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(schema.ErrCodeExecution))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(schema.ErrCodeRetryExhausted))
}
