package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// run is the per-execution state. The journal records every completed
// step's output by path; on resume, journaled paths are replayed instead of
// executed, so collaborators are never invoked twice for the same step.
type run struct {
	engine  *Engine
	runID   string
	timeout time.Duration

	mu      sync.Mutex
	journal map[string]any
	pending map[string]schema.Suspension // suspensions of the previous execution, by path
}

func newRun(e *Engine, p ExecuteParams) *run {
	r := &run{
		engine:  e,
		runID:   p.RunID,
		timeout: e.timeout,
		journal: make(map[string]any),
		pending: make(map[string]schema.Suspension),
	}
	if p.CallTimeout > 0 {
		r.timeout = p.CallTimeout
	}
	if st := p.ResumeState; st != nil {
		for k, v := range st.Journal {
			r.journal[k] = expressions.Normalize(v)
		}
		for _, sp := range st.Suspended {
			r.pending[sp.Path] = sp
		}
	}
	return r
}

// runList executes steps in order against scope. It stops at the first
// suspension or failure. Errors always name the innermost failing step.
func (r *run) runList(ctx context.Context, steps []schema.StepDefinition, scope *expressions.Scope, prefix string, stack []string) (any, []schema.Suspension, error) {
	var last any
	for i := range steps {
		step := &steps[i]
		path := joinPath(prefix, step.ID)

		if err := ctx.Err(); err != nil {
			return nil, nil, contextError(err, "run").WithStep(step.ID).WithPath(path)
		}

		out, suspended, err := r.executeStep(ctx, step, scope, path, stack)
		if err != nil {
			return nil, nil, attribute(err, step.ID, path)
		}
		if len(suspended) > 0 {
			return nil, suspended, nil
		}

		scope.Set(step.ID, out)
		last, _ = scope.Get(step.ID)
	}
	return last, nil, nil
}

func (r *run) executeStep(ctx context.Context, step *schema.StepDefinition, scope *expressions.Scope, path string, stack []string) (any, []schema.Suspension, error) {
	ctx = logging.WithStep(ctx, path)
	logger := r.engine.logger

	if out, ok := r.recorded(path); ok {
		r.emit(ctx, step.ID, schema.EventStepReplayed, map[string]any{"path": path})
		logger.DebugContext(ctx, "step replayed", slog.String("path", path))
		return out, nil, nil
	}

	ex, ok := r.engine.registry.Get(step.Type)
	if !ok {
		return nil, nil, schema.NewErrorf(schema.ErrCodeDefinition, "unknown step type %q", step.Type)
	}

	call := &Call{
		Step:      step,
		Input:     expressions.ResolveMap(step.InputMapping, scope),
		Scope:     scope,
		Path:      path,
		CallStack: stack,
		run:       r,
	}

	r.emit(ctx, step.ID, schema.EventStepStarted, map[string]any{"path": path, "type": step.Type})
	start := r.engine.now()

	outcome, err := safeExecute(ctx, ex, call)
	if err != nil {
		r.emit(ctx, step.ID, schema.EventStepFailed, map[string]any{"path": path, "error": err.Error()})
		logger.DebugContext(ctx, "step failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, nil, err
	}
	if outcome.Suspended() {
		r.emit(ctx, step.ID, schema.EventStepSuspended, map[string]any{"path": path, "suspended": outcome.Suspensions})
		logger.DebugContext(ctx, "step suspended", slog.String("path", path))
		return nil, outcome.Suspensions, nil
	}

	r.record(path, outcome.Output)
	r.emit(ctx, step.ID, schema.EventStepCompleted, map[string]any{
		"path":        path,
		"duration_ms": r.engine.now().Sub(start).Milliseconds(),
	})
	logger.DebugContext(ctx, "step completed", slog.String("path", path))
	return outcome.Output, nil, nil
}

// safeExecute turns a panicking executor or collaborator into a failure of
// the step instead of a crash of the host process.
func safeExecute(ctx context.Context, ex StepExecutor, call *Call) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "step panicked: %v", rec).
				WithStep(call.Step.ID).WithPath(call.Path)
		}
	}()
	return ex.Execute(ctx, call)
}

func (r *run) recorded(path string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.journal[path]
	return out, ok
}

func (r *run) record(path string, out any) {
	r.mu.Lock()
	r.journal[path] = expressions.Normalize(out)
	r.mu.Unlock()
}

// state snapshots what a later execution needs to continue this run.
func (r *run) state(input map[string]any, suspended []schema.Suspension, stack []string) *schema.SuspensionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	seed, _ := expressions.Normalize(input).(map[string]any)
	if seed == nil {
		seed = map[string]any{}
	}
	workflowID := ""
	if len(stack) > 0 {
		workflowID = stack[0]
	}
	return &schema.SuspensionState{
		WorkflowID: workflowID,
		Input:      seed,
		Journal:    expressions.DeepCopyMap(r.journal),
		Suspended:  suspended,
		CallStack:  stack,
	}
}

func (r *run) timeoutFor(step *schema.StepDefinition) time.Duration {
	if step.Timeout != "" {
		if d, err := time.ParseDuration(step.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return r.timeout
}

func (r *run) emit(ctx context.Context, stepID, eventType string, payload map[string]any) {
	if r.runID == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	ev := &store.Event{RunID: r.runID, StepID: stepID, Type: eventType, Payload: raw}
	if err := r.engine.events.AppendEvent(ctx, ev); err != nil {
		r.engine.logger.WarnContext(ctx, "append event failed",
			slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}

// bounded runs fn under the step's call timeout and classifies context
// failures: an expired bound is a timeout, a cancelled parent a cancellation.
func bounded[T any](ctx context.Context, call *Call, what string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, call.Timeout())
	defer cancel()

	out, err := fn(callCtx)
	if err == nil {
		return out, nil
	}
	var zero T
	if ctx.Err() != nil {
		return zero, contextError(ctx.Err(), what).WithCause(err)
	}
	if callCtx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
		return zero, schema.NewErrorf(schema.ErrCodeTimeout, "%s timed out after %s", what, call.Timeout()).WithCause(err)
	}
	return zero, err
}

// contextError maps a context error to CANCELLED or TIMEOUT_ERROR.
func contextError(err error, what string) *schema.FlowError {
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s deadline exceeded", what).WithCause(err)
	}
	return schema.NewErrorf(schema.ErrCodeCancelled, "%s cancelled", what).WithCause(err)
}

// attribute stamps the failing step onto err unless a nested step already
// claimed it.
func attribute(err error, stepID, path string) error {
	if fe, ok := schema.AsFlowError(err); ok {
		if fe.StepID != "" && (fe.Path != "" || fe.StepID != stepID) {
			return fe
		}
		cp := *fe
		return cp.WithStep(stepID).WithPath(path)
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).
		WithStep(stepID).WithPath(path).WithCause(err)
}
