package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
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

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runs      RunService
	Store     store.Store
	Validator DocumentValidator
	Logger    *slog.Logger
}

// Server wraps an MCP server with the runtime's tool handlers.
type Server struct {
	runs      RunService
	store     store.Store
	validator DocumentValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		runs:      deps.Runs,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"wfrt",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("wfrt runs declarative agent workflows. Use wfrt.run to execute a stored or inline workflow, wfrt.resume to answer a suspended step, wfrt.status and wfrt.list to inspect runs, wfrt.define and wfrt.validate to manage definitions."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: listTool(), Handler: s.handleList},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("wfrt.run",
		mcp.WithDescription("Execute a stored workflow or an inline definition"),
		mcp.WithString("workflow_id", mcp.Description("ID or name of a stored workflow")),
		mcp.WithObject("definition", mcp.Description("Inline workflow definition (instead of workflow_id)")),
		mcp.WithObject("input", mcp.Description("Workflow input")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("wfrt.resume",
		mcp.WithDescription("Resume a suspended run by settling one suspended step"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the suspended run")),
		mcp.WithString("step", mcp.Required(), mcp.Description("Suspended step id or path")),
		mcp.WithObject("data", mcp.Description("Output recorded for the step")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("wfrt.status",
		mcp.WithDescription("Get a run's status, output and suspensions"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
		mcp.WithBoolean("include_events", mcp.Description("Also return the run's event log")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("wfrt.cancel",
		mcp.WithDescription("Cancel an active or suspended run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("wfrt.define",
		mcp.WithDescription("Validate and store a named workflow"),
		mcp.WithString("id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
		mcp.WithString("name", mcp.Description("Workflow name (default: definition name)")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("wfrt.validate",
		mcp.WithDescription("Validate a workflow definition without storing it"),
		mcp.WithObject("definition", mcp.Description("Workflow definition object")),
		mcp.WithString("document", mcp.Description("Workflow definition as YAML or JSON text")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("wfrt.list",
		mcp.WithDescription("List runs, stored workflows, or a run's events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "workflows", "events"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow_id, run_id, since, limit)")),
	)
}
