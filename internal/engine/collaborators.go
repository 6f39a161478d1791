package engine

import (
	"context"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// AgentInvoker calls a named agent with a rendered prompt. The result is
// either text or a structured object.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentSlug, prompt string) (any, error)
}

// ToolInvoker calls a named tool with resolved arguments.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolID string, args map[string]any) (any, error)
}

// WorkflowLookup resolves a workflow id or slug to its definition.
type WorkflowLookup interface {
	Resolve(ctx context.Context, idOrSlug string) (*schema.WorkflowDefinition, error)
}

// EventAppender is satisfied by the Store; used to emit run and step events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// AgentFunc adapts a function to AgentInvoker.
type AgentFunc func(ctx context.Context, agentSlug, prompt string) (any, error)

// Invoke implements AgentInvoker.
func (f AgentFunc) Invoke(ctx context.Context, agentSlug, prompt string) (any, error) {
	return f(ctx, agentSlug, prompt)
}

// ToolFunc adapts a function to ToolInvoker.
type ToolFunc func(ctx context.Context, toolID string, args map[string]any) (any, error)

// Invoke implements ToolInvoker.
func (f ToolFunc) Invoke(ctx context.Context, toolID string, args map[string]any) (any, error) {
	return f(ctx, toolID, args)
}

// DefinitionMap is an in-memory WorkflowLookup keyed by id or slug.
type DefinitionMap map[string]*schema.WorkflowDefinition

// Resolve implements WorkflowLookup.
func (m DefinitionMap) Resolve(_ context.Context, idOrSlug string) (*schema.WorkflowDefinition, error) {
	def, ok := m[idOrSlug]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", idOrSlug)
	}
	return def, nil
}

type nopAppender struct{}

func (nopAppender) AppendEvent(context.Context, *store.Event) error { return nil }
