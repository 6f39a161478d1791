package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/internal/store"
	"github.com/agentc2/wfrt/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

func (m *mockAppender) Types() []string {
	var out []string
	for _, ev := range m.Events() {
		out = append(out, ev.Type)
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

func TestRunFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "run-1", RunStatusPending, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "run-1", schema.RunStatusRunning, schema.RunStatusSuspended))
	require.NoError(t, fsm.Transition(ctx, "run-1", schema.RunStatusSuspended, schema.RunStatusRunning))
	require.NoError(t, fsm.Transition(ctx, "run-1", schema.RunStatusRunning, schema.RunStatusSuccess))

	assert.Equal(t, []string{
		schema.EventRunStarted,
		schema.EventRunSuspended,
		schema.EventRunResumed,
		schema.EventRunCompleted,
	}, app.Types())
	for _, ev := range app.Events() {
		assert.Equal(t, "run-1", ev.RunID)
	}
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	fsm := NewRunFSM(&mockAppender{})

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusSuccess, schema.RunStatusRunning)
	require.Error(t, err)

	fe, ok := schema.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
	assert.Contains(t, fe.Message, "success")
	assert.Equal(t, "run-1", fe.Details["run_id"])
}

func TestRunFSM_AnonymousRunEmitsNothing(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	require.NoError(t, fsm.Transition(context.Background(), "", RunStatusPending, schema.RunStatusRunning))
	assert.Empty(t, app.Events())

	err := fsm.Transition(context.Background(), "", RunStatusPending, schema.RunStatusSuspended)
	require.Error(t, err)
}

func TestRunFSM_Cancel(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	require.NoError(t, fsm.Cancel(context.Background(), "run-1", schema.RunStatusSuspended))
	assert.Equal(t, []string{schema.EventRunCancelled}, app.Types())

	require.Error(t, fsm.Cancel(context.Background(), "run-1", schema.RunStatusSuccess))
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(&mockAppender{})
	var calls []string
	fsm.OnBefore(RunStatusPending, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		calls = append(calls, "before:"+string(from)+"->"+string(to))
		return nil
	})
	fsm.OnAfter(RunStatusPending, schema.RunStatusRunning, func(from, to schema.RunStatus) error {
		calls = append(calls, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "run-1", RunStatusPending, schema.RunStatusRunning))
	assert.Equal(t, []string{"before:pending->running", "after"}, calls)
}

func TestRunFSM_BeforeHookAborts(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	fsm.OnBefore(schema.RunStatusRunning, schema.RunStatusSuccess, func(_, _ schema.RunStatus) error {
		return errors.New("vetoed")
	})

	err := fsm.Transition(context.Background(), "run-1", schema.RunStatusRunning, schema.RunStatusSuccess)
	require.EqualError(t, err, "vetoed")
	assert.Empty(t, app.Events())
}

func TestRunFSM_AppenderFailure(t *testing.T) {
	fsm := NewRunFSM(&failAppender{})

	err := fsm.Transition(context.Background(), "run-1", RunStatusPending, schema.RunStatusRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeStore, schema.ErrorCode(err))
}
