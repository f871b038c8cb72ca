package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of Store.
//
// The production backend: connection pooling, InnoDB transactions, and
// a schema equivalent to SQLiteStore's. Multiple API instances and
// competing listener consumers share one MySQL store; correctness
// under concurrency rests on the UNIQUE correlation constraint and the
// transactional aggregate recomputation, not on process-local locks.
//
// DSN format (go-sql-driver):
//
//	user:password@tcp(host:3306)/evalcore?parseTime=true
//
// Credentials belong in the environment, never in source.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects, verifies the connection, and migrates the
// schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS definition (
			id INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS task (
			definition_id INT NOT NULL,
			id INT NOT NULL,
			type VARCHAR(64) NOT NULL,
			autograde BOOLEAN NOT NULL DEFAULT TRUE,
			other_fields JSON NOT NULL,
			PRIMARY KEY (definition_id, id),
			FOREIGN KEY (definition_id) REFERENCES definition(id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS submission (
			id VARCHAR(36) PRIMARY KEY,
			definition_id INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			other_fields JSON NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (definition_id) REFERENCES definition(id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS task_result (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			submission_id VARCHAR(36) NOT NULL,
			definition_id INT NOT NULL,
			task_id INT NOT NULL,
			task_submission_id VARCHAR(36) NULL,
			status VARCHAR(16) NOT NULL,
			result JSON NULL,
			completed_at TIMESTAMP NULL,
			other_fields JSON NULL,
			UNIQUE KEY uniq_task_submission (task_submission_id),
			KEY idx_task_result_submission (submission_id),
			FOREIGN KEY (submission_id) REFERENCES submission(id),
			FOREIGN KEY (definition_id, task_id) REFERENCES task(definition_id, id)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQLStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// PutDefinition replaces the stored definition and its tasks in one
// transaction.
func (s *MySQLStore) PutDefinition(ctx context.Context, def DefinitionRecord) error {
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
		ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description)
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
func (s *MySQLStore) GetDefinition(ctx context.Context, id int) (DefinitionRecord, error) {
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
// transaction.
func (s *MySQLStore) CreateSubmission(ctx context.Context, sub SubmissionRecord) error {
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
func (s *MySQLStore) GetSubmission(ctx context.Context, id string) (SubmissionRecord, error) {
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
// aggregate recomputation inside a single transaction. SELECT ... FOR
// UPDATE serializes sibling completions against each other so the
// parent status cannot be computed from a torn read.
func (s *MySQLStore) CompleteTaskResult(ctx context.Context, taskSubmissionID, status string, result json.RawMessage) (Transition, error) {
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
		SELECT id, submission_id, status FROM task_result
		WHERE task_submission_id = ? FOR UPDATE
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

	rows, err := tx.QueryContext(ctx, `
		SELECT status FROM task_result WHERE submission_id = ? FOR UPDATE
	`, submissionID)
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

// Close closes the connection pool. Subsequent calls error.
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("store already closed")
	}
	s.closed = true
	return s.db.Close()
}
