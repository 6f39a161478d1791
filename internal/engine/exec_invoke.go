package engine

import (
	"context"
	"slices"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/pkg/schema"
)

// agentExecutor renders the prompt template and calls the agent invoker.
type agentExecutor struct{}

func (x *agentExecutor) Type() schema.StepType { return schema.StepTypeAgent }

func (x *agentExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.AgentConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if cfg.AgentSlug == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "agent step requires config.agentSlug")
	}
	return nil, nil
}

func (x *agentExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.AgentConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	agents := call.Engine().agents
	if agents == nil {
		return Outcome{}, schema.NewError(schema.ErrCodeExecution, "no agent invoker configured")
	}

	// Resolved input keys shadow the enclosing context.
	prompt := expressions.Render(cfg.PromptTemplate, expressions.Overlay{
		Top:  expressions.MapSource(call.Input),
		Base: call.Scope,
	})

	out, err := bounded(ctx, call, "agent "+cfg.AgentSlug, func(ctx context.Context) (any, error) {
		return agents.Invoke(ctx, cfg.AgentSlug, prompt)
	})
	if err != nil {
		return Outcome{}, wrapCollaborator(err, "agent "+cfg.AgentSlug)
	}
	return Outcome{Output: out}, nil
}

// toolExecutor calls the tool invoker with the resolved input as arguments.
type toolExecutor struct{}

func (x *toolExecutor) Type() schema.StepType { return schema.StepTypeTool }

func (x *toolExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.ToolConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if cfg.ToolID == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "tool step requires config.toolId")
	}
	return nil, nil
}

func (x *toolExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.ToolConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	tools := call.Engine().tools
	if tools == nil {
		return Outcome{}, schema.NewError(schema.ErrCodeExecution, "no tool invoker configured")
	}

	out, err := bounded(ctx, call, "tool "+cfg.ToolID, func(ctx context.Context) (any, error) {
		return tools.Invoke(ctx, cfg.ToolID, call.Input)
	})
	if err != nil {
		return Outcome{}, wrapCollaborator(err, "tool "+cfg.ToolID)
	}
	return Outcome{Output: out}, nil
}

// workflowExecutor runs another workflow definition with the resolved input
// as its seed. The child's steps are journaled under this step's path, so
// suspensions inside the child resume like any nested list.
type workflowExecutor struct{}

func (x *workflowExecutor) Type() schema.StepType { return schema.StepTypeWorkflow }

func (x *workflowExecutor) Validate(step *schema.StepDefinition) ([]NestedList, error) {
	var cfg schema.SubWorkflowConfig
	if err := schema.DecodeConfig(step, &cfg); err != nil {
		return nil, err
	}
	if cfg.WorkflowID == "" {
		return nil, schema.NewError(schema.ErrCodeDefinition, "workflow step requires config.workflowId")
	}
	return nil, nil
}

func (x *workflowExecutor) Execute(ctx context.Context, call *Call) (Outcome, error) {
	var cfg schema.SubWorkflowConfig
	if err := schema.DecodeConfig(call.Step, &cfg); err != nil {
		return Outcome{}, err
	}
	e := call.Engine()
	if e.workflows == nil {
		return Outcome{}, schema.NewError(schema.ErrCodeExecution, "no workflow lookup configured")
	}

	type childResult struct {
		out       any
		suspended []schema.Suspension
	}
	res, err := bounded(ctx, call, "workflow "+cfg.WorkflowID, func(ctx context.Context) (childResult, error) {
		def, err := e.workflows.Resolve(ctx, cfg.WorkflowID)
		if err != nil {
			return childResult{}, err
		}
		key := def.ID
		if key == "" {
			key = cfg.WorkflowID
		}
		if slices.Contains(call.CallStack, key) {
			return childResult{}, schema.NewErrorf(schema.ErrCodeCyclicInvocation,
				"workflow %q invokes itself", key).
				WithDetails(map[string]any{"call_stack": append(slices.Clone(call.CallStack), key)})
		}
		if len(call.CallStack) >= e.maxDepth {
			return childResult{}, schema.NewErrorf(schema.ErrCodeExecution,
				"workflow nesting exceeds max depth %d", e.maxDepth)
		}
		if err := e.ValidateDefinition(def); err != nil {
			return childResult{}, err
		}

		stack := append(slices.Clone(call.CallStack), key)
		scope := expressions.NewScope(call.Input)
		out, suspended, err := call.run.runList(ctx, def.Steps, scope, call.Path, stack)
		if err != nil || len(suspended) > 0 {
			return childResult{suspended: suspended}, err
		}
		if len(def.Output) > 0 {
			out = expressions.ResolveMap(def.Output, scope)
		}
		return childResult{out: out}, nil
	})
	if err != nil {
		return Outcome{}, err
	}
	if len(res.suspended) > 0 {
		return Outcome{Suspensions: res.suspended}, nil
	}
	return Outcome{Output: res.out}, nil
}

// wrapCollaborator keeps structured errors intact and wraps anything else as
// an execution error.
func wrapCollaborator(err error, what string) error {
	if _, ok := schema.AsFlowError(err); ok {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s failed: %v", what, err).WithCause(err)
}
