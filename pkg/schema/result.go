package schema

import "time"

// SuspensionKind distinguishes why a step halted the run.
type SuspensionKind string

const (
	SuspendHuman SuspensionKind = "human"
	SuspendDelay SuspensionKind = "delay"
)

// Suspension describes one suspended step. Step is the step's own id and
// Path locates it inside nested step lists (e.g. "route/yes/approve").
type Suspension struct {
	Step     string         `json:"step"`
	Path     string         `json:"path"`
	Kind     SuspensionKind `json:"kind"`
	Data     any            `json:"data,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	ResumeAt *time.Time     `json:"resumeAt,omitempty"`
}

// SuspensionState is everything needed to continue a suspended run.
// Journal maps step paths to their recorded outputs.
type SuspensionState struct {
	WorkflowID string         `json:"workflowId,omitempty"`
	Input      map[string]any `json:"input"`
	Journal    map[string]any `json:"journal"`
	Suspended  []Suspension   `json:"suspended"`
	CallStack  []string       `json:"callStack,omitempty"`
}

// Find returns the suspension matching a step id or path.
func (s *SuspensionState) Find(step string) (*Suspension, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Suspended {
		if s.Suspended[i].Path == step {
			return &s.Suspended[i], true
		}
	}
	var match *Suspension
	for i := range s.Suspended {
		if s.Suspended[i].Step == step {
			if match != nil {
				return nil, false // ambiguous; caller must use the path
			}
			match = &s.Suspended[i]
		}
	}
	return match, match != nil
}

// EarliestResumeAt returns the first due time among delay suspensions.
func (s *SuspensionState) EarliestResumeAt() *time.Time {
	if s == nil {
		return nil
	}
	var earliest *time.Time
	for _, sp := range s.Suspended {
		if sp.Kind != SuspendDelay || sp.ResumeAt == nil {
			continue
		}
		if earliest == nil || sp.ResumeAt.Before(*earliest) {
			t := *sp.ResumeAt
			earliest = &t
		}
	}
	return earliest
}

// ExecutionResult is the outcome of executing a workflow definition.
type ExecutionResult struct {
	Status    RunStatus        `json:"status"`
	Output    any              `json:"output,omitempty"`
	Error     *FlowError       `json:"error,omitempty"`
	Suspended []Suspension     `json:"suspended,omitempty"`
	State     *SuspensionState `json:"state,omitempty"`
}
