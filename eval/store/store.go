// Package store persists definitions, submissions, and task results
// for the evaluation core, and provides the correlation lookup the
// result listener depends on.
//
// Three implementations ship with the core:
//   - MemStore: in-memory, for tests and prototyping
//   - SQLiteStore: single-file database, zero-setup deployments
//   - MySQLStore: pooled relational backend for production
//
// Ownership is by the store: tasks reference their definition and task
// results reference both submission and task through plain ids, never
// in-memory pointers.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested definition or submission
// does not exist.
var ErrNotFound = errors.New("not found")

// Record status values. They mirror the evaluation core's statuses on
// the wire; the store only interprets PENDING versus terminal.
const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
	StatusSkipped = "SKIPPED"

	SubmissionPending = "PENDING"
	SubmissionOK      = "OK"
	SubmissionFail    = "FAIL"
)

// terminal reports whether a task-result status admits no further
// transitions.
func terminal(status string) bool {
	return status == StatusSuccess || status == StatusFail || status == StatusSkipped
}

// aggregate computes a submission status from its task-result
// statuses: PENDING while any result is PENDING, then OK iff every
// result is SUCCESS, else FAIL.
func aggregate(statuses []string) string {
	allSuccess := true
	for _, s := range statuses {
		if s == StatusPending {
			return SubmissionPending
		}
		if s != StatusSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return SubmissionOK
	}
	return SubmissionFail
}

// DefinitionRecord is a persisted contest definition.
type DefinitionRecord struct {
	ID          int
	Name        string
	Description string
	Tasks       []TaskRecord
}

// TaskRecord is one persisted task. Payload holds the full serialized
// task; the type and autograde columns are typed at the boundary while
// the blob stays forward compatible.
type TaskRecord struct {
	DefinitionID int
	ID           int
	Type         string
	Autograde    bool
	Payload      json.RawMessage
}

// SubmissionRecord is one evaluation attempt against a definition.
type SubmissionRecord struct {
	ID           string
	DefinitionID int
	Status       string
	TaskResults  []TaskResultRecord
}

// TaskResultRecord is the per-task outcome inside a submission.
// TaskSubmissionID is the correlation key joining a PENDING result to
// its runner reply; it is set iff Status is PENDING and is unique
// across all task results.
type TaskResultRecord struct {
	ID               int64
	SubmissionID     string
	DefinitionID     int
	TaskID           int
	TaskSubmissionID string
	Status           string
	Result           json.RawMessage
	CompletedAt      *time.Time
}

// Transition is the outcome of CompleteTaskResult.
type Transition int

// Transition outcomes. NotFound marks a stale result; AlreadyTerminal
// marks a duplicate delivery (both are acknowledged and dropped by the
// listener).
const (
	TransitionNotFound Transition = iota
	TransitionApplied
	TransitionAlreadyTerminal
)

// String returns the transition name for logs.
func (t Transition) String() string {
	switch t {
	case TransitionApplied:
		return "applied"
	case TransitionAlreadyTerminal:
		return "already_terminal"
	case TransitionNotFound:
		return "not_found"
	}
	return "unknown"
}

// Store is the durable state the evaluation core shares between
// request handlers, the dispatcher, and the result listener.
//
// Implementations must make CreateSubmission atomic (the submission
// row and every task result commit together) and must run the
// aggregate recomputation of CompleteTaskResult inside a single
// transaction, so two sibling completions cannot race the parent
// status.
type Store interface {
	// PutDefinition persists a definition and its tasks. Definitions
	// are immutable once published; re-putting the same id replaces
	// the stored copy wholesale.
	PutDefinition(ctx context.Context, def DefinitionRecord) error

	// GetDefinition loads a definition with its tasks in ascending
	// task-id order. Returns ErrNotFound if the id is unknown.
	GetDefinition(ctx context.Context, id int) (DefinitionRecord, error)

	// CreateSubmission atomically persists a submission and all of its
	// task results. Correlation ids must be unique across the store.
	CreateSubmission(ctx context.Context, sub SubmissionRecord) error

	// GetSubmission loads a submission with its task results in
	// creation order. Returns ErrNotFound if the id is unknown.
	GetSubmission(ctx context.Context, id string) (SubmissionRecord, error)

	// CompleteTaskResult transitions the task result correlated with
	// taskSubmissionID from PENDING to the given terminal status and
	// stores the result payload. In the same transaction, once every
	// sibling is terminal, the parent submission's status is
	// recomputed. Transitions are write-once: a terminal result
	// reports TransitionAlreadyTerminal and changes nothing.
	CompleteTaskResult(ctx context.Context, taskSubmissionID, status string, result json.RawMessage) (Transition, error)

	// Close releases the underlying resources.
	Close() error
}
