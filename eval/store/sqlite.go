package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store.
//
// A single-file database suited to development and small deployments.
// WAL mode allows the request handlers and the result listener to read
// concurrently while one writer commits; a busy timeout covers writer
// contention between competing listener instances.
//
// Schema:
//   - definition: contest definitions
//   - task: per-definition tasks, composite primary key, typed columns
//     plus the forward-compatible other_fields blob
//   - submission: evaluation attempts with aggregate status
//   - task_result: per-task outcomes; task_submission_id is UNIQUE and
//     is the correlation key for the result listener
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path and
// migrates the schema. Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS definition (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task (
			definition_id INTEGER NOT NULL REFERENCES definition(id),
			id INTEGER NOT NULL,
			type TEXT NOT NULL,
			autograde INTEGER NOT NULL DEFAULT 1,
			other_fields TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (definition_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS submission (
			id TEXT PRIMARY KEY,
			definition_id INTEGER NOT NULL REFERENCES definition(id),
			status TEXT NOT NULL,
			other_fields TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS task_result (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			submission_id TEXT NOT NULL REFERENCES submission(id),
			definition_id INTEGER NOT NULL,
			task_id INTEGER NOT NULL,
			task_submission_id TEXT UNIQUE,
			status TEXT NOT NULL,
			result TEXT,
			completed_at TIMESTAMP,
			other_fields TEXT NOT NULL DEFAULT '{}',
			FOREIGN KEY (definition_id, task_id) REFERENCES task(definition_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_task_result_submission ON task_result(submission_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// PutDefinition replaces the stored definition and its tasks in one
// transaction.
func (s *SQLiteStore) PutDefinition(ctx context.Context, def DefinitionRecord) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO definition (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description
	`, def.ID, def.Name, def.Description); err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task WHERE definition_id = ?`, def.ID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	for _, task := range def.Tasks {
		payload := task.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task (definition_id, id, type, autograde, other_fields)
			VALUES (?, ?, ?, ?, ?)
		`, def.ID, task.ID, task.Type, task.Autograde, string(payload)); err != nil {
			return fmt.Errorf("failed to save task %d: %w", task.ID, err)
		}
	}

	return tx.Commit()
}

// GetDefinition loads a definition with tasks ordered by id.
func (s *SQLiteStore) GetDefinition(ctx context.Context, id int) (DefinitionRecord, error) {
	if err := s.guard(); err != nil {
		return DefinitionRecord{}, err
	}

	var def DefinitionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM definition WHERE id = ?`, id,
	).Scan(&def.ID, &def.Name, &def.Description)
	if err == sql.ErrNoRows {
		return DefinitionRecord{}, ErrNotFound
	}
	if err != nil {
		return DefinitionRecord{}, fmt.Errorf("failed to load definition: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT definition_id, id, type, autograde, other_fields
		FROM task WHERE definition_id = ? ORDER BY id
	`, id)
	if err != nil {
		return DefinitionRecord{}, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var task TaskRecord
		var payload string
		if err := rows.Scan(&task.DefinitionID, &task.ID, &task.Type, &task.Autograde, &payload); err != nil {
			return DefinitionRecord{}, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Payload = json.RawMessage(payload)
		def.Tasks = append(def.Tasks, task)
	}
	return def, rows.Err()
}

// CreateSubmission inserts the submission and all task results in one
// transaction. The UNIQUE constraint on task_submission_id rejects
// duplicate correlation ids.
func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub SubmissionRecord) error {
	if err := s.guard(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO submission (id, definition_id, status) VALUES (?, ?, ?)
	`, sub.ID, sub.DefinitionID, sub.Status); err != nil {
		return fmt.Errorf("failed to save submission: %w", err)
	}

	for _, tr := range sub.TaskResults {
		corrID := sql.NullString{String: tr.TaskSubmissionID, Valid: tr.TaskSubmissionID != ""}
		result := sql.NullString{String: string(tr.Result), Valid: tr.Result != nil}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO task_result (submission_id, definition_id, task_id, task_submission_id, status, result, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sub.ID, tr.DefinitionID, tr.TaskID, corrID, tr.Status, result, tr.CompletedAt); err != nil {
			return fmt.Errorf("failed to save task result for task %d: %w", tr.TaskID, err)
		}
	}

	return tx.Commit()
}

// GetSubmission loads a submission with its task results in creation
// order.
func (s *SQLiteStore) GetSubmission(ctx context.Context, id string) (SubmissionRecord, error) {
	if err := s.guard(); err != nil {
		return SubmissionRecord{}, err
	}

	var sub SubmissionRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, definition_id, status FROM submission WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.DefinitionID, &sub.Status)
	if err == sql.ErrNoRows {
		return SubmissionRecord{}, ErrNotFound
	}
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("failed to load submission: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, submission_id, definition_id, task_id, task_submission_id, status, result, completed_at
		FROM task_result WHERE submission_id = ? ORDER BY id
	`, id)
	if err != nil {
		return SubmissionRecord{}, fmt.Errorf("failed to load task results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tr, err := scanTaskResult(rows)
		if err != nil {
			return SubmissionRecord{}, err
		}
		sub.TaskResults = append(sub.TaskResults, tr)
	}
	return sub, rows.Err()
}

// CompleteTaskResult applies the write-once transition and the parent
// aggregate recomputation inside a single transaction.
func (s *SQLiteStore) CompleteTaskResult(ctx context.Context, taskSubmissionID, status string, result json.RawMessage) (Transition, error) {
	if !terminal(status) {
		return TransitionNotFound, fmt.Errorf("status %q is not terminal", status)
	}
	if err := s.guard(); err != nil {
		return TransitionNotFound, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return TransitionNotFound, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rowID int64
	var submissionID, current string
	err = tx.QueryRowContext(ctx, `
		SELECT id, submission_id, status FROM task_result WHERE task_submission_id = ?
	`, taskSubmissionID).Scan(&rowID, &submissionID, &current)
	if err == sql.ErrNoRows {
		return TransitionNotFound, nil
	}
	if err != nil {
		return TransitionNotFound, fmt.Errorf("failed to look up correlation %s: %w", taskSubmissionID, err)
	}
	if terminal(current) {
		return TransitionAlreadyTerminal, nil
	}

	resultCol := sql.NullString{String: string(result), Valid: result != nil}
	if _, err := tx.ExecContext(ctx, `
		UPDATE task_result SET status = ?, result = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, status, resultCol, time.Now().UTC(), rowID, StatusPending); err != nil {
		return TransitionNotFound, fmt.Errorf("failed to update task result: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT status FROM task_result WHERE submission_id = ?`, submissionID)
	if err != nil {
		return TransitionNotFound, fmt.Errorf("failed to load sibling statuses: %w", err)
	}
	var statuses []string
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			rows.Close()
			return TransitionNotFound, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses = append(statuses, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return TransitionNotFound, err
	}

	if agg := aggregate(statuses); agg != SubmissionPending {
		if _, err := tx.ExecContext(ctx, `UPDATE submission SET status = ? WHERE id = ?`, agg, submissionID); err != nil {
			return TransitionNotFound, fmt.Errorf("failed to update submission status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return TransitionNotFound, fmt.Errorf("failed to commit transition: %w", err)
	}
	return TransitionApplied, nil
}

// Close closes the database. Subsequent calls error.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store already closed")
	}
	s.closed = true
	return s.db.Close()
}

// scanTaskResult reads one task_result row from a *sql.Rows cursor.
func scanTaskResult(rows *sql.Rows) (TaskResultRecord, error) {
	var tr TaskResultRecord
	var corrID, result sql.NullString
	var completedAt sql.NullTime
	if err := rows.Scan(&tr.ID, &tr.SubmissionID, &tr.DefinitionID, &tr.TaskID, &corrID, &tr.Status, &result, &completedAt); err != nil {
		return TaskResultRecord{}, fmt.Errorf("failed to scan task result: %w", err)
	}
	tr.TaskSubmissionID = corrID.String
	if result.Valid {
		tr.Result = json.RawMessage(result.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		tr.CompletedAt = &t
	}
	return tr, nil
}
