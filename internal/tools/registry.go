package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agentc2/wfrt/pkg/schema"
)

// Registry is a thread-safe set of tools. It implements the engine's
// ToolInvoker; middlewares wrap every invocation in registration order.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*Tool
	middlewares []Middleware
	schemas     *schemaCache
}

// NewRegistry creates an empty Registry.
func NewRegistry(mws ...Middleware) *Registry {
	return &Registry{
		tools:       make(map[string]*Tool),
		middlewares: mws,
		schemas:     newSchemaCache(),
	}
}

// Register adds a tool. Duplicate names are a CONFLICT.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}
	if t.Invoke == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "tool %q has no invoke function", t.Name)
	}
	if len(t.InputSchema) > 0 {
		if _, err := r.schemas.get(t.InputSchema); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "tool %q input schema: %v", t.Name, err).WithCause(err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", t.Name)
	}
	r.tools[t.Name] = &t
	return nil
}

// RegisterPrefixed registers tools as "prefix.name" and returns how many
// were added before the first failure.
func (r *Registry) RegisterPrefixed(prefix string, tools []Tool) (int, error) {
	if prefix == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "tool prefix is empty")
	}
	for i, t := range tools {
		t.Name = fmt.Sprintf("%s.%s", prefix, t.Name)
		if err := r.Register(t); err != nil {
			return i, err
		}
	}
	return len(tools), nil
}

// Unregister removes a tool; it reports whether the tool existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tools[name]
	delete(r.tools, name)
	return ok
}

// UnregisterPrefix removes every tool named "prefix.*".
func (r *Registry) UnregisterPrefix(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name := range r.tools {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix && name[len(prefix)] == '.' {
			delete(r.tools, name)
			n++
		}
	}
	return n
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, notFound(name)
	}
	return *t, nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke checks args against the tool's input schema and calls it through
// the registry's middlewares.
func (r *Registry) Invoke(ctx context.Context, toolID string, args map[string]any) (any, error) {
	t, err := r.Get(toolID)
	if err != nil {
		return nil, err
	}
	if len(t.InputSchema) > 0 {
		if err := r.schemas.validate(t.InputSchema, args); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q arguments: %s", toolID, err.Message).
				WithDetails(err.Details).WithCause(err)
		}
	}

	invoke := t.Invoke
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		invoke = r.middlewares[i](toolID, invoke)
	}
	return invoke(ctx, args)
}

func notFound(name string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "tool %q is not registered", name).WithCause(ErrToolNotFound)
}
