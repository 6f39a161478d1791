package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinition_JSON(t *testing.T) {
	def, err := ParseDefinition([]byte(`{
		"id": "greet",
		"steps": [
			{"id": "t", "type": "transform", "inputMapping": {"value": "{{input.value}}"}}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "greet", def.ID)
	require.Len(t, def.Steps, 1)
	assert.Equal(t, StepTypeTransform, def.Steps[0].Type)
	assert.Equal(t, "{{input.value}}", def.Steps[0].InputMapping["value"])
}

func TestParseDefinition_YAMLKeepsRawConfig(t *testing.T) {
	def, err := ParseDefinition([]byte(`
id: review
steps:
  - id: call
    type: tool
    config:
      toolId: json.query
    inputMapping:
      data: "{{input}}"
`))
	require.NoError(t, err)
	require.Len(t, def.Steps, 1)

	var cfg ToolConfig
	require.NoError(t, DecodeConfig(&def.Steps[0], &cfg))
	assert.Equal(t, "json.query", cfg.ToolID)
}

func TestParseDefinition_Empty(t *testing.T) {
	_, err := ParseDefinition([]byte("   "))
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinition, ErrorCode(err))
}

func TestDecodeConfig_Invalid(t *testing.T) {
	step := &StepDefinition{ID: "s1", Type: StepTypeTool, Config: []byte(`{"toolId": 5}`)}
	var cfg ToolConfig
	err := DecodeConfig(step, &cfg)
	require.Error(t, err)

	fe, ok := AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeDefinition, fe.Code)
	assert.Equal(t, "s1", fe.StepID)
}

func TestDecodeConfig_Absent(t *testing.T) {
	step := &StepDefinition{ID: "s1", Type: StepTypeHuman}
	var cfg HumanConfig
	require.NoError(t, DecodeConfig(step, &cfg))
	assert.Empty(t, cfg.Prompt)
}

func TestFlowError_Chain(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewErrorf(ErrCodeExecution, "tool %s failed", "http.request").
		WithStep("fetch").
		WithPath("route/yes/fetch").
		WithCause(cause)

	assert.Equal(t, "[EXECUTION_ERROR] step fetch: tool http.request failed", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeExecution, ErrorCode(err))
	assert.Equal(t, ErrCodeExecution, ErrorCode(cause))
}

func TestSuspensionState_Find(t *testing.T) {
	state := &SuspensionState{Suspended: []Suspension{
		{Step: "approve", Path: "fan/a/approve", Kind: SuspendHuman},
		{Step: "approve", Path: "fan/b/approve", Kind: SuspendHuman},
		{Step: "sign", Path: "sign", Kind: SuspendHuman},
	}}

	sp, ok := state.Find("sign")
	require.True(t, ok)
	assert.Equal(t, "sign", sp.Path)

	sp, ok = state.Find("fan/b/approve")
	require.True(t, ok)
	assert.Equal(t, "fan/b/approve", sp.Path)

	_, ok = state.Find("approve")
	assert.False(t, ok, "ambiguous step id must be addressed by path")

	_, ok = state.Find("missing")
	assert.False(t, ok)
}

func TestSuspensionState_EarliestResumeAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	state := &SuspensionState{Suspended: []Suspension{
		{Step: "h", Path: "h", Kind: SuspendHuman},
		{Step: "d2", Path: "d2", Kind: SuspendDelay, ResumeAt: &later},
		{Step: "d1", Path: "d1", Kind: SuspendDelay, ResumeAt: &now},
	}}

	got := state.EarliestResumeAt()
	require.NotNil(t, got)
	assert.True(t, got.Equal(now))

	var empty *SuspensionState
	assert.Nil(t, empty.EarliestResumeAt())
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.True(t, RunStatusSuccess.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.False(t, RunStatusSuspended.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
}
