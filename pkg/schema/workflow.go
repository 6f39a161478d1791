package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// WorkflowDefinition is the static program executed by the runtime.
// It is read-only for the engine during a run.
type WorkflowDefinition struct {
	ID          string           `json:"id,omitempty"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Steps       []StepDefinition `json:"steps"`
	Output      map[string]any   `json:"output,omitempty"` // explicit output mapping; last step output when empty
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// StepDefinition describes a single step. Config is decoded lazily by the
// executor registered for Type.
type StepDefinition struct {
	ID           string          `json:"id"`
	Type         StepType        `json:"type"`
	Name         string          `json:"name,omitempty"` // display only
	InputMapping map[string]any  `json:"inputMapping,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
	Timeout      string          `json:"timeout,omitempty"` // bounds agent, tool and workflow calls (e.g. "30s")
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeTransform StepType = "transform"
	StepTypeBranch    StepType = "branch"
	StepTypeParallel  StepType = "parallel"
	StepTypeForEach   StepType = "foreach"
	StepTypeAgent     StepType = "agent"
	StepTypeTool      StepType = "tool"
	StepTypeWorkflow  StepType = "workflow"
	StepTypeHuman     StepType = "human"
	StepTypeDelay     StepType = "delay"
)

// StepTypes lists every step type in declaration order.
var StepTypes = []StepType{
	StepTypeTransform, StepTypeBranch, StepTypeParallel, StepTypeForEach,
	StepTypeAgent, StepTypeTool, StepTypeWorkflow, StepTypeHuman, StepTypeDelay,
}

// TransformConfig is the optional config block for transform steps.
type TransformConfig struct {
	JQ string `json:"jq,omitempty"` // filter applied to the resolved mapping
}

// BranchConfig is the config block for branch steps.
type BranchConfig struct {
	Branches      []ConditionalBranch `json:"branches"`
	DefaultBranch []StepDefinition    `json:"defaultBranch,omitempty"`
	Language      string              `json:"language,omitempty"` // expr (default) | cel
}

// ConditionalBranch is one guarded arm of a branch step.
type ConditionalBranch struct {
	ID        string           `json:"id"`
	Condition string           `json:"condition"`
	Steps     []StepDefinition `json:"steps"`
}

// ParallelConfig is the config block for parallel steps.
type ParallelConfig struct {
	Branches       []ParallelBranch `json:"branches"`
	MaxConcurrency int              `json:"maxConcurrency,omitempty"` // 0 = all branches at once
}

// ParallelBranch is one independently executed step list.
type ParallelBranch struct {
	ID    string           `json:"id"`
	Steps []StepDefinition `json:"steps"`
}

// ForEachConfig is the config block for foreach steps.
type ForEachConfig struct {
	CollectionPath string           `json:"collectionPath"`
	Steps          []StepDefinition `json:"steps"`
	ItemVar        string           `json:"itemVar,omitempty"`  // default: item
	IndexVar       string           `json:"indexVar,omitempty"` // default: index
	MaxIterations  int              `json:"maxIterations,omitempty"`
}

// AgentConfig is the config block for agent steps.
type AgentConfig struct {
	AgentSlug      string `json:"agentSlug"`
	PromptTemplate string `json:"promptTemplate"`
}

// ToolConfig is the config block for tool steps.
type ToolConfig struct {
	ToolID string `json:"toolId"`
}

// SubWorkflowConfig is the config block for workflow steps.
type SubWorkflowConfig struct {
	WorkflowID string `json:"workflowId"`
}

// HumanConfig is the optional config block for human steps.
type HumanConfig struct {
	Prompt string `json:"prompt,omitempty"`
}

// DelayConfig is the config block for delay steps. Exactly one of Duration
// or Until must be set.
type DelayConfig struct {
	Duration string `json:"duration,omitempty"` // Go duration, e.g. "15m"
	Until    string `json:"until,omitempty"`    // RFC3339 timestamp
}

// DecodeConfig unmarshals a step's raw config into v. An absent config
// decodes as the zero value.
func DecodeConfig(step *StepDefinition, v any) error {
	if len(step.Config) == 0 || string(step.Config) == "null" {
		return nil
	}
	if err := json.Unmarshal(step.Config, v); err != nil {
		return NewErrorf(ErrCodeDefinition, "invalid %s config: %s", step.Type, err.Error()).
			WithStep(step.ID).WithCause(err)
	}
	return nil
}

// DocumentJSON returns a definition document as JSON. YAML is converted so
// that step configs stay raw JSON after decoding.
func DocumentJSON(data []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, NewError(ErrCodeDefinition, "empty workflow definition")
	}
	if strings.HasPrefix(trimmed, "{") {
		return []byte(trimmed), nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewErrorf(ErrCodeDefinition, "parse yaml: %s", err.Error()).WithCause(err)
	}
	converted, err := json.Marshal(doc)
	if err != nil {
		return nil, NewErrorf(ErrCodeDefinition, "convert yaml: %s", err.Error()).WithCause(err)
	}
	return converted, nil
}

// ParseDefinition decodes a YAML or JSON definition document.
func ParseDefinition(data []byte) (*WorkflowDefinition, error) {
	data, err := DocumentJSON(data)
	if err != nil {
		return nil, err
	}
	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, NewErrorf(ErrCodeDefinition, "parse definition: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// String implements fmt.Stringer for log output.
func (d *WorkflowDefinition) String() string {
	if d.ID != "" {
		return d.ID
	}
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("inline(%d steps)", len(d.Steps))
}
