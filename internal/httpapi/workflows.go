package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

type putWorkflowRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Definition  json.RawMessage `json:"definition"`
}

// handlePutWorkflow stores a named definition after full validation. The
// path id wins over any id inside the definition.
func (s *Server) handlePutWorkflow(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var req putWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Definition) == 0 {
		badRequest(c, "definition is required")
		return
	}

	def, result := s.deps.Validator.ValidateDocument(ctx, req.Definition)
	if result.Valid() && def.ID != id {
		def.ID = id
		result = s.deps.Validator.Validate(ctx, def)
	}
	if !result.Valid() {
		writeError(c, result.ToError())
		return
	}
	name := req.Name
	if name == "" {
		name = def.Name
	}

	wf := &store.StoredWorkflow{ID: id, Name: name, Description: req.Description, Definition: *def}
	if err := s.deps.Store.PutWorkflow(ctx, wf); err != nil {
		writeError(c, err)
		return
	}
	s.deps.Logger.InfoContext(ctx, "workflow stored", "workflow_id", id, "version", wf.Version)
	c.JSON(http.StatusOK, gin.H{"workflow": wf, "warnings": result.Warnings})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	wf, err := s.deps.Store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	wfs, err := s.deps.Store.ListWorkflows(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if wfs == nil {
		wfs = []*store.StoredWorkflow{}
	}
	c.JSON(http.StatusOK, gin.H{"workflows": wfs})
}

func (s *Server) handleDeleteWorkflow(c *gin.Context) {
	if err := s.deps.Store.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleValidate checks a YAML or JSON definition in the request body. An
// invalid definition is still a 200: the issues are the result.
func (s *Server) handleValidate(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "read body: "+err.Error())
		return
	}
	_, result := s.deps.Validator.ValidateDocument(c.Request.Context(), data)
	c.JSON(http.StatusOK, validateBody(result))
}

func validateBody(result *schema.ValidationResult) gin.H {
	errs, warns := result.Errors, result.Warnings
	if errs == nil {
		errs = []schema.ValidationIssue{}
	}
	if warns == nil {
		warns = []schema.ValidationIssue{}
	}
	return gin.H{"valid": result.Valid(), "errors": errs, "warnings": warns}
}
