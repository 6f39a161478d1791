// Package httpapi exposes the runtime over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/internal/streaming"
	"github.com/agentc2/wfrt/pkg/schema"
)

// RunService is satisfied by *runner.Service.
type RunService interface {
	Start(ctx context.Context, req runner.StartRequest) (*store.Run, error)
	Resume(ctx context.Context, runID string, req runner.ResumeRequest) (*store.Run, error)
	Cancel(ctx context.Context, runID string) (*store.Run, error)
	Get(ctx context.Context, runID string) (*store.Run, error)
	List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error)
	Events(ctx context.Context, runID string, since int64) ([]*store.Event, error)
}

// DocumentValidator is satisfied by *validation.Validator.
type DocumentValidator interface {
	Validate(ctx context.Context, def *schema.WorkflowDefinition) *schema.ValidationResult
	ValidateDocument(ctx context.Context, data []byte) (*schema.WorkflowDefinition, *schema.ValidationResult)
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Runs      RunService
	Store     store.Store
	Validator DocumentValidator
	Hub       streaming.Hub // optional; enables /runs/:id/stream
	Logger    *slog.Logger
}

// Server serves the /v1 API.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Server{deps: deps}
}

// Handler returns the router for all API routes.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.handleHealth)

	v1 := r.Group("/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/resume", s.handleResumeRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.GET("/runs/:id/events", s.handleRunEvents)
	v1.GET("/runs/:id/stream", s.handleRunStream)

	v1.POST("/workflows/validate", s.handleValidate)
	v1.GET("/workflows", s.handleListWorkflows)
	v1.PUT("/workflows/:id", s.handlePutWorkflow)
	v1.GET("/workflows/:id", s.handleGetWorkflow)
	v1.DELETE("/workflows/:id", s.handleDeleteWorkflow)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// requestLogger logs one line per request through slog.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.deps.Logger.Log(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
