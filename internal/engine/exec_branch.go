package engine

import (
	"context"
	"log/slog"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// branchExecutor runs the first branch whose condition is truthy, else the
// default branch. A condition that fails at runtime (for example a field
// access through a missing value) counts as not matched.
type branchExecutor struct {
	conditions expressions.Languages
	logger     *slog.Logger
}

func (x *branchExecutor) Type() schema.StepType { return schema.StepTypeBranch }

func (x *branchExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.BranchConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Branches) == 0 && len(cfg.DefaultBranch) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "branch step requires config.branches or config.defaultBranch")
	}
	lang, ok := x.conditions[cfg.Language]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "unknown condition language %q", cfg.Language)
	}

	nested := make([]NestedList, 0, len(cfg.Branches)+1)
	seen := make(map[string]bool, len(cfg.Branches))
	for i, b := range cfg.Branches {
		if b.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "config.branches[%d].id is required", i)
		}
		if seen[b.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
		if err := lang.Check(b.Condition); err != nil {
			return nil, err
		}
		nested = append(nested, NestedList{Segment: b.ID, Steps: b.Steps})
	}
	if len(cfg.DefaultBranch) > 0 {
		nested = append(nested, NestedList{Segment: defaultSegment, Steps: cfg.DefaultBranch})
	}
	return nested, nil
}

const defaultSegment = "default"

func (x *branchExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.BranchConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	lang, ok := x.conditions[cfg.Language]
	if !ok {
		return Outcome{}, schema.NewErrorf(schema.ErrCodeDefinition, "unknown condition language %q", cfg.Language)
	}

	data := call.Scope.Vars()
	for _, b := range cfg.Branches {
		matched, err := lang.Test(ctx, b.Condition, data)
		if err != nil {
			if schema.ErrorCode(err) == schema.ErrCodeDefinition {
				return Outcome{}, err
			}
			if ctx.Err() != nil {
				return Outcome{}, contextError(ctx.Err(), "branch")
			}
			x.logger.DebugContext(ctx, "condition treated as no match",
				slog.String("branch", b.ID), slog.String("error", err.Error()))
			matched = false
		}
		call.run.emit(ctx, call.Step.ID, schema.EventConditionEvaluated, map[string]any{
			"path": call.Path, "branch": b.ID, "matched": matched,
		})
		if !matched {
			continue
		}
		return x.runArm(ctx, call, b.ID, b.ID, b.Steps)
	}

	if len(cfg.DefaultBranch) > 0 {
		return x.runArm(ctx, call, "", defaultSegment, cfg.DefaultBranch)
	}
	return Outcome{Output: map[string]any{"branchId": nil, "result": nil}}, nil
}

func (x *branchExecutor) runArm(ctx context.Context, call *Call, branchID, segment string, steps []schema.StepDefinition) (Outcome, error) {
	out, suspended, err := call.RunNested(ctx, steps, call.Scope, segment)
	if err != nil {
		return Outcome{}, err
	}
	if len(suspended) > 0 {
		return Outcome{Suspensions: suspended}, nil
	}
	var id any
	if branchID != "" {
		id = branchID
	}
	return Outcome{Output: map[string]any{"branchId": id, "result": out}}, nil
}
