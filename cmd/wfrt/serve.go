package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/httpapi"
	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/scheduler"
	wfrtmcp "github.com/agentc2/wfrt/pkg/mcp"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "settings file (default: ~/.wfrt/settings.yaml)")
	addr := fs.String("addr", "", "HTTP listen address (overrides http_addr)")
	mcpFlag := fs.Bool("mcp", false, "also serve MCP over stdio")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, os.Getenv)
	if err != nil {
		return fail("%v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *mcpFlag {
		cfg.MCP = true
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return fail("%v", err)
	}
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return fail("%v", err)
	}
	defer a.Close()

	if err := serve(ctx, a); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		return 1
	}
	return 0
}

// serve runs every long-lived component until ctx is cancelled. SIGHUP
// refreshes the tool lists of the configured MCP servers.
func serve(ctx context.Context, a *app) error {
	logger := a.logger

	sched := scheduler.New(a.runner,
		scheduler.WithInterval(a.cfg.SchedulerInterval),
		scheduler.WithLogger(logger),
	)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	api := httpapi.NewServer(httpapi.Deps{
		Runs:      a.runner,
		Store:     a.store,
		Validator: a.validator,
		Hub:       a.hub,
		Logger:    logger,
	})
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http api listening", slog.String("addr", a.cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	if a.cfg.MCP {
		mcpSrv := wfrtmcp.NewServer(wfrtmcp.ServerDeps{
			Runs:      a.runner,
			Store:     a.store,
			Validator: a.validator,
			Logger:    logger,
		})
		go func() {
			logger.Info("mcp server on stdio")
			if err := mcpSrv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errc <- err
			}
		}()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errc:
			runErr = err
			break loop
		case <-hup:
			if err := a.refreshTools(ctx); err != nil {
				logger.Warn("tool refresh failed", slog.Any("error", err))
			} else {
				logger.Info("tools refreshed", slog.Int("count", len(a.tools.List())))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	logger.Info("shutdown complete")
	return runErr
}
