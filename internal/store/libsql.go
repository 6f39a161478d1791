package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/agentc2/wfrt/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/wfrt.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Runs ---

const runColumns = `id, workflow_id, definition, status, input, output, error, state, resume_at, created_at, updated_at, completed_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	def, err := json.Marshal(run.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	input, err := jsonOrNull(run.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	runErr, err := jsonOrNull(run.Error)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	state, err := jsonOrNull(run.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	now := time.Now().UTC()
	run.CreatedAt = timeOr(run.CreatedAt, now)
	run.UpdatedAt = timeOr(run.UpdatedAt, now)
	if run.Status == "" {
		run.Status = schema.RunStatusRunning
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, nullStr(run.WorkflowID), string(def), string(run.Status), input, nullRaw(run.Output),
		runErr, state, unixMillis(run.ResumeAt), run.CreatedAt, run.UpdatedAt, nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	return run, err
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, nullRaw(update.Output))
	}
	if update.Error != nil {
		raw, err := json.Marshal(update.Error)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		sets = append(sets, "error = ?")
		args = append(args, string(raw))
	}
	switch {
	case update.ClearState:
		sets = append(sets, "state = NULL", "resume_at = NULL")
	case update.State != nil:
		raw, err := json.Marshal(update.State)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		sets = append(sets, "state = ?", "resume_at = ?")
		args = append(args, string(raw), unixMillis(update.ResumeAt))
	case update.ResumeAt != nil:
		sets = append(sets, "resume_at = ?")
		args = append(args, unixMillis(update.ResumeAt))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

// ListDueRuns returns suspended runs whose earliest delay is at or before now.
func (s *LibSQLStore) ListDueRuns(ctx context.Context, now time.Time) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE status = ? AND resume_at IS NOT NULL AND resume_at <= ?
		 ORDER BY resume_at ASC`,
		string(schema.RunStatusSuspended), now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		workflowID                 sql.NullString
		defJSON, status            string
		input, output, errJSON, st sql.NullString
		resumeAt                   sql.NullInt64
		completedAt                sql.NullTime
	)
	if err := row.Scan(&run.ID, &workflowID, &defJSON, &status, &input, &output, &errJSON, &st,
		&resumeAt, &run.CreatedAt, &run.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	run.WorkflowID = workflowID.String
	run.Status = schema.RunStatus(status)
	if err := decodeJSON(defJSON, &run.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if input.Valid {
		if err := decodeJSON(input.String, &run.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	run.Output = rawOrNil(output)
	if errJSON.Valid {
		run.Error = &schema.FlowError{}
		if err := decodeJSON(errJSON.String, run.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	if st.Valid {
		run.State = &schema.SuspensionState{}
		if err := decodeJSON(st.String, run.State); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
	}
	if resumeAt.Valid {
		t := time.UnixMilli(resumeAt.Int64).UTC()
		run.ResumeAt = &t
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Named workflows ---

// PutWorkflow inserts or replaces a named workflow, bumping its version on replace.
func (s *LibSQLStore) PutWorkflow(ctx context.Context, wf *StoredWorkflow) error {
	if wf.Definition.ID == "" {
		wf.Definition.ID = wf.ID
	}
	if wf.Name == "" {
		wf.Name = wf.Definition.Name
	}
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, definition, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
		   definition=excluded.definition, version=workflows.version + 1, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Name), nullStr(wf.Description), string(def), timeOr(wf.CreatedAt, now), now,
	)
	if err != nil {
		return fmt.Errorf("put workflow: %w", err)
	}
	return s.db.QueryRowContext(ctx,
		`SELECT version, created_at, updated_at FROM workflows WHERE id = ?`, wf.ID,
	).Scan(&wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
}

const workflowColumns = `id, name, description, definition, version, created_at, updated_at`

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*StoredWorkflow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

// GetWorkflowByName returns the most recently updated workflow with the given name.
func (s *LibSQLStore) GetWorkflowByName(ctx context.Context, name string) (*StoredWorkflow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE name = ? ORDER BY updated_at DESC LIMIT 1`, name)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", name)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context) ([]*StoredWorkflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StoredWorkflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func scanWorkflow(row rowScanner) (*StoredWorkflow, error) {
	wf := &StoredWorkflow{}
	var name, desc sql.NullString
	var defJSON string
	if err := row.Scan(&wf.ID, &name, &desc, &defJSON, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return nil, err
	}
	wf.Name = name.String
	wf.Description = desc.String
	if err := decodeJSON(defJSON, &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).WithCause(ErrNotFound)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

// decodeJSON keeps numbers as json.Number so integers survive a round trip.
func decodeJSON(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func unixMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 || bytes.Equal(r, []byte("null")) {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// jsonOrNull marshals v, storing nil values as NULL.
func jsonOrNull[T any](v T) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return string(raw), nil
}
