package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/pkg/schema"
)

type fakeSession struct {
	mu        sync.Mutex
	tools     []mcp.Tool
	listCalls int
	called    []mcp.CallToolParams
	result    *mcp.CallToolResult
	closed    bool
}

func (f *fakeSession) ListTools(context.Context, mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeSession) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, req.Params)
	return f.result, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}, IsError: isError}
}

func newFakeProvider(t *testing.T, sess *fakeSession) (*MCPProvider, *Registry) {
	t.Helper()
	reg := NewRegistry()
	p := NewMCPProvider(reg, WithDialer(func(context.Context, ServerConfig) (Session, error) {
		return sess, nil
	}))
	return p, reg
}

func TestMCPProvider_RegistersPrefixedTools(t *testing.T) {
	sess := &fakeSession{
		tools:  []mcp.Tool{{Name: "search", Description: "search docs"}},
		result: textResult(`{"hits":2}`, false),
	}
	p, reg := newFakeProvider(t, sess)

	require.NoError(t, p.Connect(context.Background(), ServerConfig{Name: "docs", Command: "docs-mcp"}))
	require.True(t, reg.Has("docs.search"))

	out, err := reg.Invoke(context.Background(), "docs.search", map[string]any{"q": "retry"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hits": 2}, out)
	require.Len(t, sess.called, 1)
	assert.Equal(t, "search", sess.called[0].Name, "the remote name has no prefix")
}

func TestMCPProvider_TextAndErrorResults(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{Name: "say"}}, result: textResult("hello", false)}
	p, reg := newFakeProvider(t, sess)
	require.NoError(t, p.Connect(context.Background(), ServerConfig{Name: "s"}))

	out, err := reg.Invoke(context.Background(), "s.say", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	sess.result = textResult("quota exceeded", true)
	_, err = reg.Invoke(context.Background(), "s.say", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestMCPProvider_ConnectErrors(t *testing.T) {
	p, _ := newFakeProvider(t, &fakeSession{})
	ctx := context.Background()

	assert.Error(t, p.Connect(ctx, ServerConfig{Name: ""}))
	assert.Error(t, p.Connect(ctx, ServerConfig{Name: "a.b"}))

	require.NoError(t, p.Connect(ctx, ServerConfig{Name: "one"}))
	assert.Equal(t, schema.ErrCodeConflict, schema.ErrorCode(p.Connect(ctx, ServerConfig{Name: "one"})))

	failing := NewMCPProvider(NewRegistry(), WithDialer(func(context.Context, ServerConfig) (Session, error) {
		return nil, errors.New("exec: not found")
	}))
	assert.Error(t, failing.Connect(ctx, ServerConfig{Name: "x"}))
}

func TestMCPProvider_RefreshUsesCacheUntilInvalidated(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{Name: "a"}}}
	p, reg := newFakeProvider(t, sess)
	ctx := context.Background()
	require.NoError(t, p.Connect(ctx, ServerConfig{Name: "srv"}))
	assert.Equal(t, 1, sess.listCalls)

	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 1, sess.listCalls, "fresh cache entries are not refetched")

	sess.tools = []mcp.Tool{{Name: "b"}}
	p.Invalidate("srv")
	require.NoError(t, p.Refresh(ctx))
	assert.Equal(t, 2, sess.listCalls)
	assert.False(t, reg.Has("srv.a"), "stale tools are removed")
	assert.True(t, reg.Has("srv.b"))
}

func TestToolCache_TTL(t *testing.T) {
	c := NewToolCache(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Put("s", []mcp.Tool{{Name: "x"}})
	tools, ok := c.Get("s")
	require.True(t, ok)
	assert.Len(t, tools, 1)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("s")
	assert.False(t, ok)
}

func TestMCPProvider_CloseDisconnectsAll(t *testing.T) {
	sess := &fakeSession{tools: []mcp.Tool{{Name: "a"}}}
	p, reg := newFakeProvider(t, sess)
	require.NoError(t, p.Connect(context.Background(), ServerConfig{Name: "srv"}))

	require.NoError(t, p.Close())
	assert.True(t, sess.closed)
	assert.False(t, reg.Has("srv.a"))
}

func TestContentText(t *testing.T) {
	content := []mcp.Content{
		mcp.TextContent{Type: "text", Text: "first"},
		mcp.ImageContent{Type: "image", Data: "aGk=", MIMEType: "image/png"},
		&mcp.TextContent{Type: "text", Text: "second"},
	}
	assert.Equal(t, "first\nsecond", contentText(content))
	assert.Empty(t, contentText(nil))
}
