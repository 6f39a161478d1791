package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/agentc2/wfrt/internal/expressions"
	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/pkg/schema"
)

// ServerConfig describes how to launch an external MCP tool server.
type ServerConfig struct {
	Name    string   `yaml:"name" json:"name"`
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args" json:"args,omitempty"`
	Env     []string `yaml:"env" json:"env,omitempty"`
}

// Session is the part of an MCP client the provider needs.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Dialer opens an initialized session to a server.
type Dialer func(ctx context.Context, cfg ServerConfig) (Session, error)

// DialStdio launches cfg.Command and performs the MCP handshake over stdio.
func DialStdio(ctx context.Context, cfg ServerConfig) (Session, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "wfrt", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize mcp server %q: %w", cfg.Name, err)
	}
	return c, nil
}

// ToolCache holds the tool list of each server until it is invalidated or
// older than its TTL.
type ToolCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]toolCacheEntry
}

type toolCacheEntry struct {
	tools     []mcp.Tool
	fetchedAt time.Time
}

// NewToolCache creates a cache. A zero ttl never expires entries.
func NewToolCache(ttl time.Duration) *ToolCache {
	return &ToolCache{ttl: ttl, now: time.Now, entries: make(map[string]toolCacheEntry)}
}

// Get returns the cached tools of server if still fresh.
func (c *ToolCache) Get(server string) ([]mcp.Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[server]
	if !ok || (c.ttl > 0 && c.now().Sub(e.fetchedAt) > c.ttl) {
		return nil, false
	}
	return e.tools, true
}

// Put stores the tool list of server.
func (c *ToolCache) Put(server string, tools []mcp.Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[server] = toolCacheEntry{tools: tools, fetchedAt: c.now()}
}

// Invalidate drops the cached list of server so the next refresh refetches it.
func (c *ToolCache) Invalidate(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, server)
}

// MCPProvider exposes the tools of external MCP servers in a Registry as
// "<server>.<tool>".
type MCPProvider struct {
	registry *Registry
	dial     Dialer
	cache    *ToolCache
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]Session
}

// MCPOption configures an MCPProvider.
type MCPOption func(*MCPProvider)

// WithDialer replaces DialStdio.
func WithDialer(d Dialer) MCPOption { return func(p *MCPProvider) { p.dial = d } }

// WithToolCache replaces the default never-expiring cache.
func WithToolCache(c *ToolCache) MCPOption { return func(p *MCPProvider) { p.cache = c } }

// WithMCPLogger sets the logger.
func WithMCPLogger(l *slog.Logger) MCPOption { return func(p *MCPProvider) { p.logger = l } }

// NewMCPProvider creates a provider registering into registry.
func NewMCPProvider(registry *Registry, opts ...MCPOption) *MCPProvider {
	p := &MCPProvider{
		registry: registry,
		dial:     DialStdio,
		cache:    NewToolCache(0),
		logger:   logging.Discard(),
		sessions: make(map[string]Session),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Cache returns the provider's tool cache.
func (p *MCPProvider) Cache() *ToolCache { return p.cache }

// Connect starts a server and registers its tools.
func (p *MCPProvider) Connect(ctx context.Context, cfg ServerConfig) error {
	if cfg.Name == "" || strings.Contains(cfg.Name, ".") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid mcp server name %q", cfg.Name)
	}
	p.mu.Lock()
	_, exists := p.sessions[cfg.Name]
	p.mu.Unlock()
	if exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "mcp server %q already connected", cfg.Name)
	}

	sess, err := p.dial(ctx, cfg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.sessions[cfg.Name] = sess
	p.mu.Unlock()

	n, err := p.sync(ctx, cfg.Name, sess)
	if err != nil {
		_ = p.Disconnect(cfg.Name)
		return err
	}
	p.logger.InfoContext(ctx, "mcp server connected", slog.String("server", cfg.Name), slog.Int("tools", n))
	return nil
}

// Invalidate marks a server's tool list stale; the next Refresh refetches it.
func (p *MCPProvider) Invalidate(server string) {
	p.cache.Invalidate(server)
}

// Refresh refetches the tool list of every server whose cache entry is
// missing or expired and re-registers its tools.
func (p *MCPProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	p.mu.Unlock()
	sort.Strings(names)

	var errs []string
	for _, name := range names {
		if _, fresh := p.cache.Get(name); fresh {
			continue
		}
		p.mu.Lock()
		sess := p.sessions[name]
		p.mu.Unlock()
		if sess == nil {
			continue
		}
		if _, err := p.sync(ctx, name, sess); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return schema.NewErrorf(schema.ErrCodeExecution, "refresh mcp tools: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Disconnect closes a server session and removes its tools.
func (p *MCPProvider) Disconnect(server string) error {
	p.mu.Lock()
	sess, ok := p.sessions[server]
	delete(p.sessions, server)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	p.registry.UnregisterPrefix(server)
	p.cache.Invalidate(server)
	return sess.Close()
}

// Close disconnects every server.
func (p *MCPProvider) Close() error {
	p.mu.Lock()
	names := make([]string, 0, len(p.sessions))
	for name := range p.sessions {
		names = append(names, name)
	}
	p.mu.Unlock()

	var first error
	for _, name := range names {
		if err := p.Disconnect(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (p *MCPProvider) sync(ctx context.Context, server string, sess Session) (int, error) {
	res, err := sess.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, schema.NewErrorf(schema.ErrCodeExecution, "list tools of %q: %v", server, err).WithCause(err)
	}
	p.cache.Put(server, res.Tools)

	p.registry.UnregisterPrefix(server)
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		inputSchema, err := json.Marshal(t.InputSchema)
		if err != nil || len(t.InputSchema.Properties) == 0 {
			inputSchema = nil
		}
		tools = append(tools, Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema,
			Invoke:      remoteInvoke(sess, t.Name),
		})
	}
	return p.registry.RegisterPrefixed(server, tools)
}

func remoteInvoke(sess Session, name string) InvokeFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		res, err := sess.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: name, Arguments: args},
		})
		if err != nil {
			return nil, err
		}
		return callResult(name, res)
	}
}

// callResult prefers structured content, then JSON text, then plain text.
func callResult(name string, res *mcp.CallToolResult) (any, error) {
	text := contentText(res.Content)
	if res.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "mcp tool %q failed: %s", name, text)
	}
	if res.StructuredContent != nil {
		return expressions.Normalize(res.StructuredContent), nil
	}
	return decodeBody([]byte(text)), nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		switch tc := c.(type) {
		case mcp.TextContent:
			parts = append(parts, tc.Text)
		case *mcp.TextContent:
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
