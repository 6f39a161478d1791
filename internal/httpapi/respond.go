package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Step    string         `json:"step,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// runBody is the response to executing, resuming or cancelling a run.
type runBody struct {
	RunID     string              `json:"runId"`
	Status    schema.RunStatus    `json:"status"`
	Output    json.RawMessage     `json:"output,omitempty"`
	Suspended []schema.Suspension `json:"suspended,omitempty"`
	Error     *errorBody          `json:"error,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeDefinition, schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeCancelled, schema.ErrCodeConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case schema.ErrCodeStore:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

func toErrorBody(err error) *errorBody {
	fe, ok := schema.AsFlowError(err)
	if !ok {
		return &errorBody{Code: schema.ErrCodeExecution, Message: err.Error()}
	}
	return &errorBody{Code: fe.Code, Message: fe.Message, Step: fe.StepID, Details: fe.Details}
}

// writeError aborts with the status mapped from err's code.
func writeError(c *gin.Context, err error) {
	body := toErrorBody(err)
	c.AbortWithStatusJSON(statusFor(body.Code), gin.H{"error": body})
}

func badRequest(c *gin.Context, msg string) {
	writeError(c, schema.NewError(schema.ErrCodeValidation, msg))
}

// writeRun reports an execution outcome: 200 for success and suspension,
// the mapped error status for a failed run.
func writeRun(c *gin.Context, run *store.Run) {
	body := runBody{RunID: run.ID, Status: run.Status, Output: run.Output}
	if run.State != nil && run.Status == schema.RunStatusSuspended {
		body.Suspended = run.State.Suspended
	}
	status := http.StatusOK
	if run.Status == schema.RunStatusFailed && run.Error != nil {
		body.Error = toErrorBody(run.Error)
		status = statusFor(run.Error.Code)
	}
	c.JSON(status, body)
}

// queryInt extracts an integer query param with a default value.
func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
