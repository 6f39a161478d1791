package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/pkg/schema"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echo " + name,
		Invoke: func(_ context.Context, args map[string]any) (any, error) {
			return args, nil
		},
	}
}

func TestRegistry_RegisterAndInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)
	assert.True(t, r.Has("echo"))
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("dup")))

	err := r.Register(echoTool("dup"))
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(err))

	err = r.Register(Tool{Name: ""})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	err = r.Register(Tool{Name: "noop"})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))

	bad := echoTool("bad-schema")
	bad.InputSchema = json.RawMessage(`{"type": 12}`)
	assert.Error(t, r.Register(bad))
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("a")))
	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.False(t, r.Has("a"))
}

func TestRegistry_PrefixedAndList(t *testing.T) {
	r := NewRegistry()
	n, err := r.RegisterPrefixed("gh", []Tool{echoTool("issue"), echoTool("pr")})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, r.Register(echoTool("ghost")))

	names := []string{}
	for _, info := range r.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"gh.issue", "gh.pr", "ghost"}, names)

	assert.Equal(t, 2, r.UnregisterPrefix("gh"))
	assert.True(t, r.Has("ghost"), "prefix match requires the dot")

	_, err = r.RegisterPrefixed("", nil)
	assert.Error(t, err)
}

func TestRegistry_InputSchemaChecked(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("typed")
	tool.InputSchema = json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}},"required":["n"]}`)
	require.NoError(t, r.Register(tool))

	_, err := r.Invoke(context.Background(), "typed", map[string]any{"n": 3})
	require.NoError(t, err)

	_, err = r.Invoke(context.Background(), "typed", map[string]any{"n": "three"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestRegistry_MiddlewareOrder(t *testing.T) {
	var trace []string
	mark := func(label string) Middleware {
		return func(name string, next InvokeFunc) InvokeFunc {
			return func(ctx context.Context, args map[string]any) (any, error) {
				trace = append(trace, label+":"+name)
				return next(ctx, args)
			}
		}
	}
	r := NewRegistry(mark("outer"), mark("inner"))
	require.NoError(t, r.Register(echoTool("t")))

	_, err := r.Invoke(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:t", "inner:t"}, trace)
}
