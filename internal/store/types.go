package store

import (
	"encoding/json"
	"time"

	"github.com/agentc2/wfrt/pkg/schema"
)

// Run is the persisted representation of one workflow execution.
type Run struct {
	ID          string                    `json:"id"`
	WorkflowID  string                    `json:"workflow_id,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	Status      schema.RunStatus          `json:"status"`
	Input       map[string]any            `json:"input,omitempty"`
	Output      json.RawMessage           `json:"output,omitempty"`
	Error       *schema.FlowError         `json:"error,omitempty"`
	State       *schema.SuspensionState   `json:"state,omitempty"`
	ResumeAt    *time.Time                `json:"resume_at,omitempty"` // earliest due delay suspension
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// RunUpdate carries the mutable fields of a run. Nil fields are left as-is.
type RunUpdate struct {
	Status      *schema.RunStatus
	Output      json.RawMessage
	Error       *schema.FlowError
	State       *schema.SuspensionState
	ClearState  bool // drop the suspension state (and resume_at)
	ResumeAt    *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status     *schema.RunStatus
	WorkflowID string
	Since      *time.Time
	Limit      int
	Offset     int
}

// StoredWorkflow is a named definition resolvable by workflow steps.
type StoredWorkflow struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name,omitempty"`
	Description string                    `json:"description,omitempty"`
	Definition  schema.WorkflowDefinition `json:"definition"`
	Version     int                       `json:"version"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepID    string          `json:"step_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	RunID string
	Since *time.Time
	Limit int
}
