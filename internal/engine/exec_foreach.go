package engine

import (
	"context"
	"strconv"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

const (
	defaultItemVar  = "item"
	defaultIndexVar = "index"
)

// foreachExecutor runs its nested steps once per element of a collection,
// sequentially. A collection that is missing or not an array yields zero
// iterations.
type foreachExecutor struct{}

func (x *foreachExecutor) Type() schema.StepType { return schema.StepTypeForEach }

func (x *foreachExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.ForEachConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if cfg.CollectionPath == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "foreach step requires config.collectionPath")
	}
	if len(cfg.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "foreach step requires config.steps")
	}
	if cfg.MaxIterations < 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "config.maxIterations must not be negative")
	}
	item, index := loopVars(cfg)
	if item == index {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "itemVar and indexVar must differ, both are %q", item)
	}
	// Iteration indexes become path segments; "0" stands in for all of them.
	return []NestedList{{Segment: "0", Steps: cfg.Steps, Vars: []string{item, index}}}, nil
}

func loopVars(cfg schema.ForEachConfig) (string, string) {
	item, index := cfg.ItemVar, cfg.IndexVar
	if item == "" {
		item = defaultItemVar
	}
	if index == "" {
		index = defaultIndexVar
	}
	return item, index
}

func (x *foreachExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.ForEachConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	itemVar, indexVar := loopVars(cfg)

	raw, _ := expressions.ResolvePath(cfg.CollectionPath, call.Scope)
	items, _ := raw.([]any)

	if cfg.MaxIterations > 0 && len(items) > cfg.MaxIterations {
		return Outcome{}, schema.NewErrorf(schema.ErrCodeExecution,
			"collection has %d items, exceeding maxIterations %d", len(items), cfg.MaxIterations)
	}

	results := make([]any, 0, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return Outcome{}, contextError(err, "foreach")
		}
		call.run.emit(ctx, call.Step.ID, schema.EventLoopIterStarted, map[string]any{
			"path": call.Path, "index": i,
		})

		iter := call.Scope.Child()
		iter.Set(itemVar, item)
		iter.Set(indexVar, i)

		out, suspended, err := call.RunNested(ctx, cfg.Steps, iter, strconv.Itoa(i))
		if err != nil {
			return Outcome{}, err
		}
		if len(suspended) > 0 {
			return Outcome{Suspensions: suspended}, nil
		}
		results = append(results, out)
	}
	return Outcome{Output: results}, nil
}
