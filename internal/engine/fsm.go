package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// RunStatusPending is the status of a run that has been accepted but has not
// started executing. It is never persisted as a terminal result.
const RunStatusPending schema.RunStatus = "pending"

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM manages run lifecycle state transitions.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via the given appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	if appender == nil {
		appender = nopAppender{}
	}
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a run transition and emits its event. Runs without
// an id are anonymous: the transition is checked but nothing is emitted.
// The caller is responsible for persisting the new status.
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus) error {
	return f.transition(ctx, runID, from, to, runEventType(from, to))
}

// Cancel moves a run to failed and records it as a cancellation.
func (f *RunFSM) Cancel(ctx context.Context, runID string, from schema.RunStatus) error {
	return f.transition(ctx, runID, from, schema.RunStatusFailed, schema.EventRunCancelled)
}

func (f *RunFSM) transition(ctx context.Context, runID string, from, to schema.RunStatus, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	key := runHookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if runID != "" && eventType != "" {
		event := &store.Event{RunID: runID, Type: eventType}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

// IsValidRunTransition reports whether from -> to is allowed.
func IsValidRunTransition(from, to schema.RunStatus) bool {
	return slices.Contains(ValidRunTransitions[from], to)
}

func runEventType(from, to schema.RunStatus) string {
	switch to {
	case schema.RunStatusRunning:
		if from == schema.RunStatusSuspended {
			return schema.EventRunResumed
		}
		return schema.EventRunStarted
	case schema.RunStatusSuccess:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	case schema.RunStatusSuspended:
		return schema.EventRunSuspended
	default:
		return ""
	}
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	RunStatusPending:          {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusRunning:   {schema.RunStatusSuccess, schema.RunStatusFailed, schema.RunStatusSuspended},
	schema.RunStatusSuspended: {schema.RunStatusRunning, schema.RunStatusFailed},
	schema.RunStatusSuccess:   {},
	schema.RunStatusFailed:    {},
}
