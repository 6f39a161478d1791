package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// Outcome is what an executor produces: an output to record under the
// step's id, or one or more suspensions that halt the run.
type Outcome struct {
	Output      any
	Suspensions []schema.Suspension
}

// Suspended reports whether the outcome halts the run.
func (o Outcome) Suspended() bool {
	return len(o.Suspensions) > 0
}

// NestedList is a step list embedded in a control-flow step's config.
// Segment becomes part of the nested steps' paths. Vars names the extra
// context keys the list sees, such as loop variables.
type NestedList struct {
	Segment string
	Steps   []schema.StepDefinition
	Vars    []string
}

// StepExecutor performs one step type.
type StepExecutor interface {
	Type() schema.StepType
	// Validate checks the step's config and returns its nested step lists so
	// the engine can validate them recursively.
	Validate(step *schema.StepDefinition) ([]NestedList, error)
	Execute(ctx context.Context, call *Call) (Outcome, error)
}

// Registry maps step types to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.StepType]StepExecutor
}

// NewRegistry creates a Registry holding the given executors.
func NewRegistry(executors ...StepExecutor) *Registry {
	r := &Registry{executors: make(map[schema.StepType]StepExecutor, len(executors))}
	for _, ex := range executors {
		r.executors[ex.Type()] = ex
	}
	return r
}

// Register adds or replaces the executor for its step type.
func (r *Registry) Register(ex StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[ex.Type()] = ex
}

// Get returns the executor for a step type.
func (r *Registry) Get(t schema.StepType) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[t]
	return ex, ok
}

// Types lists the registered step types in sorted order.
func (r *Registry) Types() []schema.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schema.StepType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Call is one invocation of an executor. It is the executor's handle back
// into the engine for nested execution.
type Call struct {
	Step      *schema.StepDefinition
	Input     map[string]any     // resolved inputMapping
	Scope     *expressions.Scope // context visible to the step
	Path      string             // location of the step, e.g. "route/yes/approve"
	CallStack []string           // workflow ids from the root run to this step

	run *run
}

// RunNested executes a nested step list in a child of scope. The nested
// steps' paths are prefixed with the call's path and segment.
func (c *Call) RunNested(ctx context.Context, steps []schema.StepDefinition, scope *expressions.Scope, segment string) (any, []schema.Suspension, error) {
	return c.run.runList(ctx, steps, scope.Child(), joinPath(c.Path, segment), c.CallStack)
}

// Engine returns the engine running this call.
func (c *Call) Engine() *Engine {
	return c.run.engine
}

// PendingSuspension returns the suspension recorded for this step by a
// previous execution of the same run, if any.
func (c *Call) PendingSuspension() (schema.Suspension, bool) {
	sp, ok := c.run.pending[c.Path]
	return sp, ok
}

// Suspend builds a single-suspension outcome for this step.
func (c *Call) Suspend(kind schema.SuspensionKind, data any) Outcome {
	return Outcome{Suspensions: []schema.Suspension{{
		Step: c.Step.ID,
		Path: c.Path,
		Kind: kind,
		Data: data,
	}}}
}

// Timeout returns the bound for this step's external call.
func (c *Call) Timeout() time.Duration {
	return c.run.timeoutFor(c.Step)
}

func joinPath(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out == "" {
			out = p
			continue
		}
		out += "/" + p
	}
	return out
}
