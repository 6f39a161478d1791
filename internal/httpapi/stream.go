package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/agentc2/wfrt/internal/streaming"
	"github.com/agentc2/wfrt/pkg/schema"
)

// handleRunStream sends a run's stored events after ?since and then follows
// live ones as server-sent events. The stream ends when the run completes,
// fails or suspends, or when the client goes away.
func (s *Server) handleRunStream(c *gin.Context) {
	if s.deps.Hub == nil {
		writeError(c, schema.NewError(schema.ErrCodeNotFound, "event streaming is not enabled"))
		return
	}
	since, ok := sinceParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	runID := c.Param("id")

	// Subscribe first so nothing is lost between the replay and the feed.
	live, cancel, err := s.deps.Hub.Subscribe(ctx, streaming.Filter{RunID: runID})
	if err != nil {
		writeError(c, err)
		return
	}
	defer cancel()

	run, err := s.deps.Runs.Get(ctx, runID)
	if err != nil {
		writeError(c, err)
		return
	}
	stored, err := s.deps.Runs.Events(ctx, runID, since)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	last := since
	done := !following(run.Status)
	for _, ev := range stored {
		c.SSEvent(ev.Type, ev)
		last = ev.Sequence
		done = done || endsStream(ev.Type)
	}
	c.Writer.Flush()
	if done {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Sequence <= last {
				continue
			}
			last = ev.Sequence
			c.SSEvent(ev.Type, ev)
			c.Writer.Flush()
			if endsStream(ev.Type) {
				return
			}
		}
	}
}

func following(status schema.RunStatus) bool {
	switch status {
	case schema.RunStatusSuccess, schema.RunStatusFailed, schema.RunStatusSuspended:
		return false
	}
	return true
}

func endsStream(eventType string) bool {
	switch eventType {
	case schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunCancelled, schema.EventRunSuspended:
		return true
	}
	return false
}

