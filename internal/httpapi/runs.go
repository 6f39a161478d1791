package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/runner"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// runContext detaches execution from the request: a client that goes away
// leaves its run going. Runs stop only through the cancel route.
func runContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req runner.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	run, err := s.deps.Runs.Start(runContext(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeRun(c, run)
}

func (s *Server) handleResumeRun(c *gin.Context) {
	var req runner.ResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid JSON: "+err.Error())
		return
	}
	if req.Step == "" {
		badRequest(c, "step is required")
		return
	}
	run, err := s.deps.Runs.Resume(runContext(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	writeRun(c, run)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	run, err := s.deps.Runs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.deps.Runs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleListRuns accepts status, workflow_id, since (RFC 3339), limit and
// offset query parameters.
func (s *Server) handleListRuns(c *gin.Context) {
	filter := store.RunFilter{
		WorkflowID: c.Query("workflow_id"),
		Limit:      queryInt(c, "limit", 50),
		Offset:     queryInt(c, "offset", 0),
	}
	if v := c.Query("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	runs, err := s.deps.Runs.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// handleRunEvents returns events with sequence greater than ?since.
func (s *Server) handleRunEvents(c *gin.Context) {
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	events, err := s.deps.Runs.Events(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func sinceParam(c *gin.Context) (int64, bool) {
	v := c.Query("since")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		badRequest(c, "since must be an event sequence number")
		return 0, false
	}
	return n, true
}
