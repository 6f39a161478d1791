package engine

import (
	"context"
	"time"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// humanExecutor halts the run until a caller supplies the step's output.
type humanExecutor struct{}

func (x *humanExecutor) Type() schema.StepType { return schema.StepTypeHuman }

func (x *humanExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.HumanConfig
	return nil, schema.DecodeConfig(step, &cfg)
}

func (x *humanExecutor) Execute(_ context.Context, call *Call) (Outcome, error) {
	var cfg schema.HumanConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	out := call.Suspend(schema.SuspendHuman, call.Input)
	if cfg.Prompt != "" {
		out.Suspensions[0].Prompt = expressions.Render(cfg.Prompt, expressions.Overlay{
			Top:  expressions.MapSource(call.Input),
			Base: call.Scope,
		})
	}
	return out, nil
}

// delayExecutor is a scheduling boundary: it suspends with the time the run
// becomes due and never sleeps. A delay already due on first execution
// completes immediately.
type delayExecutor struct{}

func (x *delayExecutor) Type() schema.StepType { return schema.StepTypeDelay }

func (x *delayExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.DelayConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	_, _, err := parseDelay(cfg)
	return nil, err
}

// parseDelay returns either a relative duration or an absolute time.
func parseDelay(cfg schema.DelayConfig) (time.Duration, *time.Time, error) {
	switch {
	case cfg.Duration != "" && cfg.Until != "":
		return 0, nil, schema.NewError(schema.ErrCodeDefinition, "delay step takes config.duration or config.until, not both")
	case cfg.Duration != "":
		d, err := time.ParseDuration(cfg.Duration)
		if err != nil {
			return 0, nil, schema.NewErrorf(schema.ErrCodeDefinition, "invalid config.duration %q", cfg.Duration).WithCause(err)
		}
		if d < 0 {
			return 0, nil, schema.NewErrorf(schema.ErrCodeDefinition, "config.duration %q is negative", cfg.Duration)
		}
		return d, nil, nil
	case cfg.Until != "":
		t, err := time.Parse(time.RFC3339, cfg.Until)
		if err != nil {
			return 0, nil, schema.NewErrorf(schema.ErrCodeDefinition, "invalid config.until %q", cfg.Until).WithCause(err)
		}
		return 0, &t, nil
	default:
		return 0, nil, schema.NewError(schema.ErrCodeDefinition, "delay step requires config.duration or config.until")
	}
}

func (x *delayExecutor) Execute(_ context.Context, call *Call) (Outcome, error) {
	var cfg schema.DelayConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	now := call.Engine().now().UTC()

	var resumeAt time.Time
	if prev, ok := call.PendingSuspension(); ok && prev.ResumeAt != nil {
		resumeAt = prev.ResumeAt.UTC()
	} else {
		d, until, err := parseDelay(cfg)
		if err != nil {
			return Outcome{}, err
		}
		resumeAt = now.Add(d)
		if until != nil {
			resumeAt = until.UTC()
		}
		if !resumeAt.After(now) {
			return Outcome{Output: delayOutput(resumeAt, now)}, nil
		}
	}

	out := call.Suspend(schema.SuspendDelay, call.Input)
	out.Suspensions[0].ResumeAt = &resumeAt
	return out, nil
}

func delayOutput(resumeAt, resumedAt time.Time) map[string]any {
	return map[string]any{
		"resumeAt":  resumeAt.Format(time.RFC3339Nano),
		"resumedAt": resumedAt.Format(time.RFC3339Nano),
	}
}

// ResumeStep settles one suspension of state with data and returns the state
// to execute next. step may be a step id or a full path. A delay may not be
// settled before it is due; its output defaults to the resume timestamps.
func ResumeStep(state *schema.SuspensionState, step string, data any, now time.Time) (*schema.SuspensionState, error) {
	if state == nil {
		return nil, schema.NewError(schema.ErrCodeConflict, "run has no suspension state")
	}
	sp, ok := state.Find(step)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step %q is not suspended, or the id is ambiguous", step)
	}

	if sp.Kind == schema.SuspendDelay {
		if sp.ResumeAt != nil && now.Before(*sp.ResumeAt) {
			return nil, schema.NewErrorf(schema.ErrCodeConflict,
				"delay step %q is not due until %s", sp.Step, sp.ResumeAt.UTC().Format(time.RFC3339)).
				WithStep(sp.Step).WithPath(sp.Path)
		}
		if data == nil {
			at := now
			if sp.ResumeAt != nil {
				at = *sp.ResumeAt
			}
			data = delayOutput(at.UTC(), now.UTC())
		}
	}

	next := &schema.SuspensionState{
		WorkflowID: state.WorkflowID,
		Input:      expressions.DeepCopyMap(state.Input),
		Journal:    expressions.DeepCopyMap(state.Journal),
		CallStack:  state.CallStack,
	}
	if next.Journal == nil {
		next.Journal = map[string]any{}
	}
	next.Journal[sp.Path] = expressions.Normalize(data)
	for _, other := range state.Suspended {
		if other.Path != sp.Path {
			next.Suspended = append(next.Suspended, other)
		}
	}
	return next, nil
}
