package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agentc2/wfrt/pkg/schema"
)

// parallelExecutor runs every branch concurrently, each in its own child
// scope. The first failure cancels the remaining branches. Suspensions from
// all branches are collected so a resume can settle them one by one.
type parallelExecutor struct{}

func (x *parallelExecutor) Type() schema.StepType { return schema.StepTypeParallel }

func (x *parallelExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.ParallelConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Branches) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "parallel step requires config.branches")
	}
	if cfg.MaxConcurrency < 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "config.maxConcurrency must not be negative")
	}
	nested := make([]NestedList, 0, len(cfg.Branches))
	seen := make(map[string]bool, len(cfg.Branches))
	for i, b := range cfg.Branches {
		if b.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "config.branches[%d].id is required", i)
		}
		if seen[b.ID] {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "duplicate branch id %q", b.ID)
		}
		seen[b.ID] = true
		nested = append(nested, NestedList{Segment: b.ID, Steps: b.Steps})
	}
	return nested, nil
}

type branchResult struct {
	out       any
	suspended []schema.Suspension
}

func (x *parallelExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.ParallelConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}

	size := cfg.MaxConcurrency
	if size <= 0 || size > len(cfg.Branches) {
		size = len(cfg.Branches)
	}

	call.run.emit(ctx, call.Step.ID, schema.EventParallelStarted, map[string]any{
		"path": call.Path, "branches": len(cfg.Branches), "max_concurrency": size,
	})

	group := newBranchGroup(ctx, size)
	results := make([]branchResult, len(cfg.Branches))
	for i := range cfg.Branches {
		b := cfg.Branches[i]
		idx := i
		started := group.Go(b.ID, func(ctx context.Context) error {
			out, suspended, err := call.RunNested(ctx, b.Steps, call.Scope, b.ID)
			if err != nil {
				return err
			}
			results[idx] = branchResult{out: out, suspended: suspended}
			return nil
		})
		if !started {
			break
		}
	}
	if err := group.Wait(); err != nil {
		var pe *PanicError
		if errors.As(err, &pe) {
			return Outcome{}, schema.NewErrorf(schema.ErrCodeExecution, "branch %q panicked: %v", pe.Task, pe.Value).
				WithPath(joinPath(call.Path, pe.Task))
		}
		return Outcome{}, err
	}
	call.run.engine.logger.DebugContext(ctx, "parallel branches settled",
		slog.Int64("succeeded", group.Stats().Succeeded), slog.Int("limit", size))

	if err := ctx.Err(); err != nil {
		return Outcome{}, contextError(err, "parallel")
	}

	var suspended []schema.Suspension
	output := make(map[string]any, len(cfg.Branches))
	for i, b := range cfg.Branches {
		if len(results[i].suspended) > 0 {
			suspended = append(suspended, results[i].suspended...)
			continue
		}
		output[b.ID] = results[i].out
	}
	if len(suspended) > 0 {
		return Outcome{Suspensions: suspended}, nil
	}

	call.run.emit(ctx, call.Step.ID, schema.EventParallelCompleted, map[string]any{"path": call.Path})
	return Outcome{Output: output}, nil
}
