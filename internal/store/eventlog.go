package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const eventColumns = `id, run_id, step_id, event_type, payload, timestamp, sequence`

// AppendEvent journals event under the next sequence number of its run.
// Computing the sequence inside the INSERT keeps it gap-free and unique
// per run without a separate read.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		return fmt.Errorf("append event: run id is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO events (run_id, step_id, event_type, payload, timestamp, sequence)
		 SELECT ?, ?, ?, ?, ?, COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?
		 RETURNING id, sequence`,
		event.RunID, nullStr(event.StepID), event.Type, nullRaw(event.Payload), event.Timestamp, event.RunID,
	)
	if err := row.Scan(&event.ID, &event.Sequence); err != nil {
		return fmt.Errorf("append %s event for run %s: %w", event.Type, event.RunID, err)
	}
	return nil
}

// GetEvents returns the journal of a run after sequence since, oldest first.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return s.queryEvents(ctx,
		`WHERE run_id = ? AND sequence > ? ORDER BY sequence`, runID, since)
}

// GetEventsByType returns events of one type across runs, newest first.
func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var b strings.Builder
	args := []any{eventType}
	b.WriteString(`WHERE event_type = ?`)
	if filter.RunID != "" {
		b.WriteString(` AND run_id = ?`)
		args = append(args, filter.RunID)
	}
	if filter.Since != nil {
		b.WriteString(` AND timestamp >= ?`)
		args = append(args, *filter.Since)
	}
	b.WriteString(` ORDER BY timestamp DESC, id DESC`)
	if filter.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}
	return s.queryEvents(ctx, b.String(), args...)
}

func (s *LibSQLStore) queryEvents(ctx context.Context, clause string, args ...any) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e       Event
			stepID  sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.RunID, &stepID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.StepID = stepID.String
		e.Payload = rawOrNil(payload)
		events = append(events, &e)
	}
	return events, rows.Err()
}
