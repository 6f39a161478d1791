// Package runner persists workflow runs around the engine: it starts,
// resumes and cancels runs and keeps their state in the store.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentc2/wfrt/internal/engine"
	"github.com/agentc2/wfrt/internal/logging"
	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// Config holds the collaborators of a Service.
type Config struct {
	Engine      *engine.Engine
	Store       store.Store
	Logger      *slog.Logger
	CallTimeout time.Duration    // 0 = engine default
	Now         func() time.Time // nil = time.Now
}

// StartRequest names a stored workflow or carries an inline definition.
type StartRequest struct {
	WorkflowID string                     `json:"workflowId,omitempty"`
	Definition *schema.WorkflowDefinition `json:"definition,omitempty"`
	Input      map[string]any             `json:"input,omitempty"`
}

// ResumeRequest settles one suspended step. Step is a step id or path.
type ResumeRequest struct {
	Step string `json:"step"`
	Data any    `json:"data,omitempty"`
}

// Service runs workflows and persists their outcomes.
type Service struct {
	engine      *engine.Engine
	store       store.Store
	lookup      store.Lookup
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// New creates a Service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		engine:      cfg.Engine,
		store:       cfg.Store,
		lookup:      store.Lookup{Store: cfg.Store},
		logger:      cfg.Logger,
		callTimeout: cfg.CallTimeout,
		now:         cfg.Now,
		inflight:    make(map[string]context.CancelFunc),
	}
}

// Start validates, persists and executes a new run. The returned run
// reflects the persisted outcome.
func (s *Service) Start(ctx context.Context, req StartRequest) (*store.Run, error) {
	def, err := s.definition(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.engine.ValidateDefinition(def); err != nil {
		return nil, err
	}

	run := &store.Run{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		Definition: *def,
		Status:     schema.RunStatusRunning,
		Input:      req.Input,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, storeError("create run", err)
	}

	runCtx, release, err := s.acquire(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	s.logger.InfoContext(logging.WithRunID(ctx, run.ID), "run started", slog.String("workflow_id", def.ID))
	res := s.engine.ExecuteWorkflowDefinition(runCtx, engine.ExecuteParams{
		RunID:       run.ID,
		Definition:  def,
		Input:       req.Input,
		CallTimeout: s.callTimeout,
	})
	return s.persist(ctx, run.ID, res)
}

// Resume settles one suspension of a suspended run and continues it.
// Delay steps may not be resumed before they are due.
func (s *Service) Resume(ctx context.Context, runID string, req ResumeRequest) (*store.Run, error) {
	runCtx, release, err := s.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != schema.RunStatusSuspended {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is %s, not suspended", runID, run.Status)
	}
	state, err := engine.ResumeStep(run.State, req.Step, req.Data, s.now())
	if err != nil {
		return nil, err
	}

	running := schema.RunStatusRunning
	if err := s.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &running, State: state}); err != nil {
		return nil, storeError("update run", err)
	}

	s.logger.InfoContext(logging.WithRunID(ctx, runID), "run resumed", slog.String("step", req.Step))
	res := s.engine.ExecuteWorkflowDefinition(runCtx, engine.ExecuteParams{
		RunID:       runID,
		Definition:  &run.Definition,
		ResumeState: state,
		CallTimeout: s.callTimeout,
	})
	return s.persist(ctx, runID, res)
}

// Cancel stops a run. An executing run has its context cancelled and ends
// as a CANCELLED failure; any other non-terminal run is marked so directly
// while holding the run's guard, so no resume can interleave.
func (s *Service) Cancel(ctx context.Context, runID string) (*store.Run, error) {
	s.mu.Lock()
	if cancel, active := s.inflight[runID]; active {
		s.mu.Unlock()
		cancel()
		s.logger.InfoContext(logging.WithRunID(ctx, runID), "run cancellation requested")
		return s.store.GetRun(ctx, runID)
	}
	_, release := s.claimLocked(ctx, runID)
	s.mu.Unlock()
	defer release()

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is already %s", runID, run.Status)
	}
	if err := s.engine.FSM().Cancel(ctx, runID, run.Status); err != nil {
		return nil, err
	}

	failed := schema.RunStatusFailed
	now := s.now().UTC()
	err = s.store.UpdateRun(ctx, runID, store.RunUpdate{
		Status:      &failed,
		Error:       schema.NewError(schema.ErrCodeCancelled, "run cancelled"),
		CompletedAt: &now,
	})
	if err != nil {
		return nil, storeError("update run", err)
	}
	s.logger.InfoContext(logging.WithRunID(ctx, runID), "run cancelled")
	return s.store.GetRun(ctx, runID)
}

// Get returns a run by id.
func (s *Service) Get(ctx context.Context, runID string) (*store.Run, error) {
	return s.store.GetRun(ctx, runID)
}

// List returns runs matching filter, newest first.
func (s *Service) List(ctx context.Context, filter store.RunFilter) ([]*store.Run, error) {
	return s.store.ListRuns(ctx, filter)
}

// Events returns a run's events with sequence greater than since.
func (s *Service) Events(ctx context.Context, runID string, since int64) ([]*store.Event, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.GetEvents(ctx, runID, since)
}

// ResumeDue resumes every delay suspension due at now and returns the
// number of steps resumed. A failure on one run does not stop the others.
func (s *Service) ResumeDue(ctx context.Context, now time.Time) (int, error) {
	runs, err := s.store.ListDueRuns(ctx, now)
	if err != nil {
		return 0, storeError("list due runs", err)
	}
	resumed := 0
	for _, run := range runs {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		resumed += s.resumeDueRun(ctx, run, now)
	}
	return resumed, nil
}

// resumeDueRun settles due delays of one run one at a time; each resume
// re-suspends the run with the delays that remain.
func (s *Service) resumeDueRun(ctx context.Context, run *store.Run, now time.Time) int {
	resumed := 0
	state := run.State
	for state != nil {
		path, ok := dueDelay(state, now)
		if !ok {
			break
		}
		next, err := s.Resume(ctx, run.ID, ResumeRequest{Step: path})
		if err != nil {
			s.logger.WarnContext(logging.WithRunID(ctx, run.ID), "scheduled resume failed",
				slog.String("step", path), slog.String("error", err.Error()))
			break
		}
		resumed++
		if next.Status != schema.RunStatusSuspended {
			break
		}
		state = next.State
	}
	return resumed
}

func dueDelay(state *schema.SuspensionState, now time.Time) (string, bool) {
	for _, sp := range state.Suspended {
		if sp.Kind == schema.SuspendDelay && sp.ResumeAt != nil && !now.Before(*sp.ResumeAt) {
			return sp.Path, true
		}
	}
	return "", false
}

func (s *Service) definition(ctx context.Context, req StartRequest) (*schema.WorkflowDefinition, error) {
	switch {
	case req.Definition != nil && req.WorkflowID != "":
		return nil, schema.NewError(schema.ErrCodeValidation, "provide either workflowId or definition, not both")
	case req.Definition != nil:
		return req.Definition, nil
	case req.WorkflowID != "":
		return s.lookup.Resolve(ctx, req.WorkflowID)
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "workflowId or definition is required")
	}
}

// acquire registers runID as executing. A second caller for the same run
// gets CONFLICT until release is called.
func (s *Service) acquire(ctx context.Context, runID string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[runID]; busy {
		return nil, nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is already executing", runID)
	}
	runCtx, release := s.claimLocked(ctx, runID)
	return runCtx, release, nil
}

// claimLocked registers runID in inflight. s.mu must be held.
func (s *Service) claimLocked(ctx context.Context, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	s.inflight[runID] = cancel
	return runCtx, func() {
		s.mu.Lock()
		delete(s.inflight, runID)
		s.mu.Unlock()
		cancel()
	}
}

// persist writes an execution result back to the run. It uses a context
// detached from cancellation so a cancelled run still records its outcome.
func (s *Service) persist(ctx context.Context, runID string, res *schema.ExecutionResult) (*store.Run, error) {
	ctx = context.WithoutCancel(ctx)
	status := res.Status
	update := store.RunUpdate{Status: &status}

	switch res.Status {
	case schema.RunStatusSuspended:
		update.State = res.State
		update.ResumeAt = res.State.EarliestResumeAt()
	case schema.RunStatusSuccess:
		raw, err := json.Marshal(res.Output)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "marshal output: %v", err).WithCause(err)
		}
		update.Output = raw
		update.ClearState = true
	case schema.RunStatusFailed:
		update.Error = res.Error
		if res.State != nil {
			update.State = res.State
		} else {
			update.ClearState = true
		}
	}
	if res.Status.IsTerminal() {
		now := s.now().UTC()
		update.CompletedAt = &now
	}

	if err := s.store.UpdateRun(ctx, runID, update); err != nil {
		return nil, storeError("persist run", err)
	}
	logCtx := logging.WithRunID(ctx, runID)
	if res.Error != nil {
		s.logger.InfoContext(logCtx, "run finished", slog.String("status", string(status)),
			slog.String("code", res.Error.Code), slog.String("failed_step", res.Error.StepID))
	} else {
		s.logger.InfoContext(logCtx, "run finished", slog.String("status", string(status)))
	}
	return s.store.GetRun(ctx, runID)
}

func storeError(op string, err error) error {
	if _, ok := schema.AsFlowError(err); ok {
		return err
	}
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %v", op, err).WithCause(err)
}
