package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/agentc2/wfrt/internal/agents"
	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/internal/streaming"
	"github.com/agentc2/wfrt/internal/tools"
	"github.com/agentc2/wfrt/internal/validation"
)

const breakerCooldown = 30 * time.Second

// app is the wired runtime shared by every subcommand.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	hub       *streaming.MemoryHub
	tools     *tools.Registry
	mcpTools  *tools.MCPProvider
	engine    *engine.Engine
	runner    *runner.Service
	validator *validation.Validator
}

type appOptions struct {
	// offline answers agent steps locally and skips external MCP servers.
	offline bool
}

func newApp(ctx context.Context, cfg Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	policy := tools.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.ToolRetryMax
	registry := tools.NewRegistry(
		tools.WithRetry(policy, logger),
		tools.WithCircuitBreaker(cfg.ToolBreakerThreshold, breakerCooldown),
	)
	if err := tools.RegisterBuiltins(registry, tools.BuiltinOptions{}); err != nil {
		_ = st.Close()
		return nil, err
	}

	provider := tools.NewMCPProvider(registry, tools.WithMCPLogger(logger))
	if !opts.offline {
		for _, sc := range cfg.MCPServers {
			if err := provider.Connect(ctx, sc); err != nil {
				logger.WarnContext(ctx, "mcp server unavailable", slog.String("server", sc.Name), slog.Any("error", err))
			}
		}
	}

	var agentInvoker engine.AgentInvoker = agents.EchoInvoker{}
	if !opts.offline && cfg.AgentBaseURL != "" {
		agentInvoker = agents.NewHTTPInvoker(cfg.AgentBaseURL, agents.WithAPIKey(cfg.AgentAPIKey))
	}

	lookup := store.Lookup{Store: st}
	hub := streaming.NewMemoryHub()
	eng, err := engine.New(engine.Config{
		Agents:      agentInvoker,
		Tools:       registry,
		Workflows:   lookup,
		Events:      streaming.PublishingAppender{Next: st, Hub: hub},
		Logger:      logger,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, err
	}
	val, err := validation.New(eng, lookup)
	if err != nil {
		_ = provider.Close()
		_ = st.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		hub:       hub,
		tools:     registry,
		mcpTools:  provider,
		engine:    eng,
		runner:    runner.New(runner.Config{Engine: eng, Store: st, Logger: logger, CallTimeout: cfg.CallTimeout}),
		validator: val,
	}, nil
}

// refreshTools refetches the tool lists of every configured MCP server.
func (a *app) refreshTools(ctx context.Context) error {
	for _, sc := range a.cfg.MCPServers {
		a.mcpTools.Invalidate(sc.Name)
	}
	return a.mcpTools.Refresh(ctx)
}

func (a *app) Close() error {
	return errors.Join(a.mcpTools.Close(), a.store.Close())
}
