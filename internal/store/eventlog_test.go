package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentc2/wfrt/pkg/schema"
)

func TestAppendEvent_MonotonicSequencePerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		e := &Event{RunID: "run-a", StepID: "s1", Type: schema.EventStepStarted}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.NotZero(t, e.ID)
	}

	other := &Event{RunID: "run-b", Type: schema.EventRunStarted}
	require.NoError(t, s.AppendEvent(ctx, other))
	assert.Equal(t, int64(1), other.Sequence, "sequences are independent per run")
}

func TestGetEvents_Since(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, et := range []string{schema.EventRunStarted, schema.EventStepStarted, schema.EventStepCompleted} {
		require.NoError(t, s.AppendEvent(ctx, &Event{
			RunID:   "run-a",
			StepID:  "s1",
			Type:    et,
			Payload: json.RawMessage(`{"k":"v"}`),
		}))
	}

	all, err := s.GetEvents(ctx, "run-a", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, schema.EventRunStarted, all[0].Type)
	assert.Equal(t, "s1", all[1].StepID)
	assert.JSONEq(t, `{"k":"v"}`, string(all[2].Payload))

	tail, err := s.GetEvents(ctx, "run-a", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, schema.EventStepCompleted, tail[0].Type)

	none, err := s.GetEvents(ctx, "run-z", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-a", Type: schema.EventStepFailed, StepID: "x"}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-b", Type: schema.EventStepFailed, StepID: "y"}))
	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-a", Type: schema.EventStepCompleted}))

	failed, err := s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	scoped, err := s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{RunID: "run-b"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "y", scoped[0].StepID)

	future := time.Now().Add(time.Hour)
	late, err := s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, late)

	limited, err := s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppendEvent_ConcurrentWritersKeepSequenceUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Go(func() {
			errs[i] = s.AppendEvent(ctx, &Event{RunID: "run-c", Type: schema.EventStepCompleted})
		})
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	events, err := s.GetEvents(ctx, "run-c", 0)
	require.NoError(t, err)
	require.Len(t, events, writers)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestAppendEvent_RequiresRunID(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendEvent(context.Background(), &Event{Type: schema.EventRunStarted})
	assert.ErrorContains(t, err, "run id is required")
}

func TestAppendEvent_KeepsGivenTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendEvent(ctx, &Event{RunID: "run-t", Type: schema.EventRunStarted, Timestamp: at}))

	events, err := s.GetEvents(ctx, "run-t", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.WithinDuration(t, at, events[0].Timestamp, time.Second)
	assert.Nil(t, events[0].Payload)
	assert.Empty(t, events[0].StepID)
}

func BenchmarkAppendEvent(b *testing.B) {
	s, err := NewLibSQLStore("file:" + b.TempDir() + "/bench.db")
	require.NoError(b, err)
	defer s.Close()
	ctx := context.Background()
	require.NoError(b, s.Migrate(ctx))

	for b.Loop() {
		_ = s.AppendEvent(ctx, &Event{RunID: "bench", Type: schema.EventStepCompleted})
	}
}
