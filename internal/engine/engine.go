package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/pkg/schema"
)

// DefaultCallTimeout bounds agent, tool and workflow calls when neither the
// step nor the caller supplies a timeout.
const DefaultCallTimeout = 60 * time.Second

// DefaultMaxDepth caps nested workflow invocations.
const DefaultMaxDepth = 16

// Config holds the engine's collaborators and limits.
type Config struct {
	Agents      AgentInvoker
	Tools       ToolInvoker
	Workflows   WorkflowLookup
	Events      EventAppender // nil = events dropped
	Logger      *slog.Logger  // nil = discard
	CallTimeout time.Duration
	MaxDepth    int
	Now         func() time.Time
}

// Engine interprets workflow definitions. It holds no per-run state and is
// safe for concurrent use by many runs.
type Engine struct {
	registry   *Registry
	conditions expressions.Languages
	jq         *expressions.JQEngine
	agents     AgentInvoker
	tools      ToolInvoker
	workflows  WorkflowLookup
	events     EventAppender
	fsm        *RunFSM
	logger     *slog.Logger
	timeout    time.Duration
	maxDepth   int
	now        func() time.Time
}

// ExecuteParams are the inputs of one execution.
type ExecuteParams struct {
	RunID       string // correlation id for events and logs; optional
	Definition  *schema.WorkflowDefinition
	Input       map[string]any
	ResumeState *schema.SuspensionState // continue a suspended run
	CallTimeout time.Duration           // overrides Config.CallTimeout for this run
}

// New creates an Engine with every built-in step executor registered.
func New(cfg Config) (*Engine, error) {
	langs, err := expressions.NewLanguages()
	if err != nil {
		return nil, err
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Events == nil {
		cfg.Events = nopAppender{}
	}

	e := &Engine{
		conditions: langs,
		jq:         expressions.NewJQEngine(),
		agents:     cfg.Agents,
		tools:      cfg.Tools,
		workflows:  cfg.Workflows,
		events:     cfg.Events,
		fsm:        NewRunFSM(cfg.Events),
		logger:     cfg.Logger,
		timeout:    cfg.CallTimeout,
		maxDepth:   cfg.MaxDepth,
		now:        cfg.Now,
	}
	e.registry = NewRegistry(
		&transformExecutor{jq: e.jq},
		&branchExecutor{conditions: langs, logger: cfg.Logger},
		&parallelExecutor{},
		&foreachExecutor{},
		&agentExecutor{},
		&toolExecutor{},
		&workflowExecutor{},
		&humanExecutor{},
		&delayExecutor{},
	)
	return e, nil
}

// Registry exposes the step executor table, e.g. to register custom types.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// FSM returns the run state machine shared with the run service.
func (e *Engine) FSM() *RunFSM {
	return e.fsm
}

// ExecuteWorkflowDefinition runs a definition to success, failure or
// suspension. It never returns nil and never panics on bad definitions:
// every problem is reported as a failed result.
func (e *Engine) ExecuteWorkflowDefinition(ctx context.Context, p ExecuteParams) *schema.ExecutionResult {
	def := p.Definition
	if def == nil {
		return failed(schema.NewError(schema.ErrCodeDefinition, "workflow definition is required"), nil)
	}

	ctx = logging.WithRunID(ctx, p.RunID)
	if def.ID != "" {
		ctx = logging.WithWorkflowID(ctx, def.ID)
	}

	if err := e.ValidateDefinition(def); err != nil {
		e.logger.WarnContext(ctx, "definition rejected", slog.String("error", err.Error()))
		return failed(err, nil)
	}

	r := newRun(e, p)

	from := RunStatusPending
	input := p.Input
	if p.ResumeState != nil {
		from = schema.RunStatusSuspended
		input = p.ResumeState.Input
	}
	if err := e.fsm.Transition(ctx, p.RunID, from, schema.RunStatusRunning); err != nil {
		return failed(err, nil)
	}

	var stack []string
	if def.ID != "" {
		stack = []string{def.ID}
	}

	scope := expressions.NewScope(input)
	out, suspended, err := r.runList(ctx, def.Steps, scope, "", stack)

	switch {
	case err != nil:
		fe := asFlowError(err)
		e.finish(ctx, p.RunID, schema.RunStatusFailed, fe)
		return failed(fe, r.state(input, nil, stack))
	case len(suspended) > 0:
		e.finish(ctx, p.RunID, schema.RunStatusSuspended, nil)
		return &schema.ExecutionResult{
			Status:    schema.RunStatusSuspended,
			Suspended: suspended,
			State:     r.state(input, suspended, stack),
		}
	}

	if len(def.Output) > 0 {
		out = expressions.ResolveMap(def.Output, scope)
	}
	e.finish(ctx, p.RunID, schema.RunStatusSuccess, nil)
	return &schema.ExecutionResult{Status: schema.RunStatusSuccess, Output: out}
}

func (e *Engine) finish(ctx context.Context, runID string, to schema.RunStatus, fe *schema.FlowError) {
	if err := e.fsm.Transition(ctx, runID, schema.RunStatusRunning, to); err != nil {
		e.logger.ErrorContext(ctx, "run transition failed", slog.String("error", err.Error()))
	}
	if fe != nil {
		e.logger.InfoContext(ctx, "run failed",
			slog.String("code", fe.Code),
			slog.String("failed_step", fe.StepID),
			slog.String("error", fe.Message))
		return
	}
	e.logger.DebugContext(ctx, "run finished", slog.String("status", string(to)))
}

func failed(err error, state *schema.SuspensionState) *schema.ExecutionResult {
	return &schema.ExecutionResult{
		Status: schema.RunStatusFailed,
		Error:  asFlowError(err),
		State:  state,
	}
}

// asFlowError converts any error to a *FlowError, preserving an existing one.
func asFlowError(err error) *schema.FlowError {
	if fe, ok := schema.AsFlowError(err); ok {
		return fe
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithCause(err)
}
