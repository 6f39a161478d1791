// Package tools holds the tool registry the engine invokes for tool steps,
// the built-in tools, resilience decorators and the MCP tool provider.
package tools

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrToolNotFound is wrapped when a tool id is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrCircuitOpen is wrapped when a circuit breaker rejects a call.
	ErrCircuitOpen = errors.New("circuit open")
)

// InvokeFunc executes a tool with resolved arguments.
type InvokeFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named callable. InputSchema, when set, is a JSON Schema the
// arguments are checked against before Invoke runs.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Invoke      InvokeFunc      `json:"-"`
}

// Info is a summary of a registered tool for listing.
type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Middleware decorates the invocation of the named tool.
type Middleware func(name string, next InvokeFunc) InvokeFunc

// Param helpers shared by the built-in tools.

func stringArg(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func stringMapArg(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
