package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for tests and single-process prototyping: data is lost on
// process exit. Thread-safe; all invariants of the Store contract
// (atomic submission creation, write-once transitions, in-lock
// aggregate recomputation) hold under concurrent use.
type MemStore struct {
	mu           sync.RWMutex
	definitions  map[int]DefinitionRecord
	submissions  map[string]*SubmissionRecord
	correlations map[string]*TaskResultRecord // taskSubmissionID -> result row
	nextResultID int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		definitions:  make(map[int]DefinitionRecord),
		submissions:  make(map[string]*SubmissionRecord),
		correlations: make(map[string]*TaskResultRecord),
		nextResultID: 1,
	}
}

// PutDefinition stores a copy of the definition.
func (m *MemStore) PutDefinition(_ context.Context, def DefinitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := def
	stored.Tasks = append([]TaskRecord(nil), def.Tasks...)
	sort.Slice(stored.Tasks, func(i, j int) bool { return stored.Tasks[i].ID < stored.Tasks[j].ID })
	m.definitions[def.ID] = stored
	return nil
}

// GetDefinition returns a copy of the stored definition, tasks in
// ascending id order.
func (m *MemStore) GetDefinition(_ context.Context, id int) (DefinitionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.definitions[id]
	if !ok {
		return DefinitionRecord{}, ErrNotFound
	}
	out := def
	out.Tasks = append([]TaskRecord(nil), def.Tasks...)
	return out, nil
}

// CreateSubmission stores the submission and indexes its pending task
// results by correlation id. Duplicate correlation ids are rejected,
// mirroring the relational unique constraint.
func (m *MemStore) CreateSubmission(_ context.Context, sub SubmissionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.submissions[sub.ID]; dup {
		return fmt.Errorf("submission %s already exists", sub.ID)
	}
	for _, tr := range sub.TaskResults {
		if tr.TaskSubmissionID == "" {
			continue
		}
		if _, dup := m.correlations[tr.TaskSubmissionID]; dup {
			return fmt.Errorf("duplicate task submission id %s", tr.TaskSubmissionID)
		}
	}

	stored := sub
	stored.TaskResults = append([]TaskResultRecord(nil), sub.TaskResults...)
	for i := range stored.TaskResults {
		stored.TaskResults[i].ID = m.nextResultID
		stored.TaskResults[i].SubmissionID = sub.ID
		m.nextResultID++
	}
	m.submissions[sub.ID] = &stored
	for i := range stored.TaskResults {
		tr := &stored.TaskResults[i]
		if tr.TaskSubmissionID != "" {
			m.correlations[tr.TaskSubmissionID] = tr
		}
	}
	return nil
}

// GetSubmission returns a copy of the stored submission.
func (m *MemStore) GetSubmission(_ context.Context, id string) (SubmissionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.submissions[id]
	if !ok {
		return SubmissionRecord{}, ErrNotFound
	}
	out := *sub
	out.TaskResults = append([]TaskResultRecord(nil), sub.TaskResults...)
	return out, nil
}

// CompleteTaskResult applies a write-once PENDING to terminal
// transition and recomputes the parent submission status once all
// siblings are terminal. The whole update runs under one lock, the
// in-memory analogue of a single transaction.
func (m *MemStore) CompleteTaskResult(_ context.Context, taskSubmissionID, status string, result json.RawMessage) (Transition, error) {
	if !terminal(status) {
		return TransitionNotFound, fmt.Errorf("status %q is not terminal", status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tr, ok := m.correlations[taskSubmissionID]
	if !ok {
		return TransitionNotFound, nil
	}
	if terminal(tr.Status) {
		return TransitionAlreadyTerminal, nil
	}

	now := time.Now().UTC()
	tr.Status = status
	tr.Result = append(json.RawMessage(nil), result...)
	tr.CompletedAt = &now

	sub := m.submissions[tr.SubmissionID]
	statuses := make([]string, 0, len(sub.TaskResults))
	for _, sibling := range sub.TaskResults {
		statuses = append(statuses, sibling.Status)
	}
	if agg := aggregate(statuses); agg != SubmissionPending {
		sub.Status = agg
	}

	return TransitionApplied, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
