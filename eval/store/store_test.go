package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// storeFactories builds one fresh store per implementation so every
// contract test runs against memory and SQLite alike.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemStore()
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "eval.db"))
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func testDefinition() DefinitionRecord {
	return DefinitionRecord{
		ID:          1,
		Name:        "week 1",
		Description: "intro exercises",
		Tasks: []TaskRecord{
			// Inserted out of order on purpose; reads sort by id.
			{DefinitionID: 1, ID: 2, Type: "SHORT_ANSWER_TASK", Autograde: true, Payload: json.RawMessage(`{"id":2}`)},
			{DefinitionID: 1, ID: 1, Type: "PROGRAMMING_TASK", Autograde: true, Payload: json.RawMessage(`{"id":1}`)},
		},
	}
}

func seedPendingSubmission(t *testing.T, s Store, id string, corrIDs ...string) {
	t.Helper()
	sub := SubmissionRecord{ID: id, DefinitionID: 1, Status: SubmissionPending}
	for i, corr := range corrIDs {
		sub.TaskResults = append(sub.TaskResults, TaskResultRecord{
			SubmissionID:     id,
			DefinitionID:     1,
			TaskID:           i + 1,
			TaskSubmissionID: corr,
			Status:           StatusPending,
		})
	}
	if err := s.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatalf("seed submission %s: %v", id, err)
	}
}

func TestDefinitionRoundTrip(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if _, err := s.GetDefinition(ctx, 1); err != ErrNotFound {
				t.Errorf("missing definition: got %v, want ErrNotFound", err)
			}

			def := testDefinition()
			if err := s.PutDefinition(ctx, def); err != nil {
				t.Fatalf("PutDefinition failed: %v", err)
			}

			got, err := s.GetDefinition(ctx, 1)
			if err != nil {
				t.Fatalf("GetDefinition failed: %v", err)
			}

			want := def
			want.Tasks = []TaskRecord{def.Tasks[1], def.Tasks[0]} // ascending id
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("definition mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPutDefinitionReplaces(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.PutDefinition(ctx, testDefinition()); err != nil {
				t.Fatalf("first PutDefinition failed: %v", err)
			}

			replacement := DefinitionRecord{
				ID:   1,
				Name: "week 1 revised",
				Tasks: []TaskRecord{
					{DefinitionID: 1, ID: 5, Type: "MULTIPLE_CHOICE_TASK", Autograde: true, Payload: json.RawMessage(`{"id":5}`)},
				},
			}
			if err := s.PutDefinition(ctx, replacement); err != nil {
				t.Fatalf("second PutDefinition failed: %v", err)
			}

			got, err := s.GetDefinition(ctx, 1)
			if err != nil {
				t.Fatalf("GetDefinition failed: %v", err)
			}
			if got.Name != "week 1 revised" || len(got.Tasks) != 1 || got.Tasks[0].ID != 5 {
				t.Errorf("replacement not applied: %+v", got)
			}
		})
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if _, err := s.GetSubmission(ctx, "nope"); err != ErrNotFound {
				t.Errorf("missing submission: got %v, want ErrNotFound", err)
			}

			if err := s.PutDefinition(ctx, testDefinition()); err != nil {
				t.Fatalf("PutDefinition failed: %v", err)
			}
			seedPendingSubmission(t, s, "sub-1", "corr-1", "corr-2")

			got, err := s.GetSubmission(ctx, "sub-1")
			if err != nil {
				t.Fatalf("GetSubmission failed: %v", err)
			}
			if got.ID != "sub-1" || got.Status != SubmissionPending {
				t.Errorf("submission header mismatch: %+v", got)
			}
			if len(got.TaskResults) != 2 {
				t.Fatalf("expected 2 task results, got %d", len(got.TaskResults))
			}
			for i, tr := range got.TaskResults {
				if tr.SubmissionID != "sub-1" || tr.Status != StatusPending {
					t.Errorf("task result %d mismatch: %+v", i, tr)
				}
				if tr.ID == 0 {
					t.Errorf("task result %d has no storage id", i)
				}
			}
			if got.TaskResults[0].TaskSubmissionID != "corr-1" || got.TaskResults[1].TaskSubmissionID != "corr-2" {
				t.Errorf("task results out of creation order: %+v", got.TaskResults)
			}
		})
	}
}

func TestCreateSubmissionRejectsDuplicateCorrelation(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.PutDefinition(ctx, testDefinition()); err != nil {
				t.Fatalf("PutDefinition failed: %v", err)
			}
			seedPendingSubmission(t, s, "sub-1", "corr-1")

			dup := SubmissionRecord{
				ID:           "sub-2",
				DefinitionID: 1,
				Status:       SubmissionPending,
				TaskResults: []TaskResultRecord{{
					SubmissionID:     "sub-2",
					DefinitionID:     1,
					TaskID:           1,
					TaskSubmissionID: "corr-1",
					Status:           StatusPending,
				}},
			}
			if err := s.CreateSubmission(ctx, dup); err == nil {
				t.Error("expected duplicate correlation id to be rejected")
			}
		})
	}
}

func TestCompleteTaskResultTransitions(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.PutDefinition(ctx, testDefinition()); err != nil {
				t.Fatalf("PutDefinition failed: %v", err)
			}
			seedPendingSubmission(t, s, "sub-1", "corr-1")

			if _, err := s.CompleteTaskResult(ctx, "corr-1", StatusPending, nil); err == nil {
				t.Error("expected non-terminal target status to be rejected")
			}

			tr, err := s.CompleteTaskResult(ctx, "missing", StatusSuccess, nil)
			if err != nil || tr != TransitionNotFound {
				t.Errorf("unknown correlation: got (%v, %v), want (not_found, nil)", tr, err)
			}

			payload := json.RawMessage(`{"stdout":"True"}`)
			tr, err = s.CompleteTaskResult(ctx, "corr-1", StatusSuccess, payload)
			if err != nil || tr != TransitionApplied {
				t.Fatalf("first completion: got (%v, %v), want (applied, nil)", tr, err)
			}

			tr, err = s.CompleteTaskResult(ctx, "corr-1", StatusFail, nil)
			if err != nil || tr != TransitionAlreadyTerminal {
				t.Errorf("redelivery: got (%v, %v), want (already_terminal, nil)", tr, err)
			}

			got, err := s.GetSubmission(ctx, "sub-1")
			if err != nil {
				t.Fatalf("GetSubmission failed: %v", err)
			}
			result := got.TaskResults[0]
			if result.Status != StatusSuccess {
				t.Errorf("status = %s, want SUCCESS preserved across redelivery", result.Status)
			}
			if string(result.Result) != string(payload) {
				t.Errorf("result = %s, want %s", result.Result, payload)
			}
			if result.CompletedAt == nil {
				t.Error("completion timestamp not set")
			}
			if got.Status != SubmissionOK {
				t.Errorf("submission status = %s, want OK", got.Status)
			}
		})
	}
}

func TestAggregateRecompute(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()

			if err := s.PutDefinition(ctx, testDefinition()); err != nil {
				t.Fatalf("PutDefinition failed: %v", err)
			}
			seedPendingSubmission(t, s, "sub-1", "corr-1", "corr-2")

			if _, err := s.CompleteTaskResult(ctx, "corr-1", StatusSuccess, nil); err != nil {
				t.Fatalf("first completion failed: %v", err)
			}
			got, _ := s.GetSubmission(ctx, "sub-1")
			if got.Status != SubmissionPending {
				t.Errorf("status = %s, want PENDING with one sibling outstanding", got.Status)
			}

			if _, err := s.CompleteTaskResult(ctx, "corr-2", StatusFail, nil); err != nil {
				t.Fatalf("second completion failed: %v", err)
			}
			got, _ = s.GetSubmission(ctx, "sub-1")
			if got.Status != SubmissionFail {
				t.Errorf("status = %s, want FAIL once all siblings are terminal", got.Status)
			}
		})
	}
}

func TestAggregateHelper(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all success", []string{StatusSuccess, StatusSuccess}, SubmissionOK},
		{"any pending wins", []string{StatusSuccess, StatusPending}, SubmissionPending},
		{"fail", []string{StatusSuccess, StatusFail}, SubmissionFail},
		{"skipped is not success", []string{StatusSuccess, StatusSkipped}, SubmissionFail},
		{"empty is ok", nil, SubmissionOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregate(tt.statuses); got != tt.want {
				t.Errorf("aggregate(%v) = %s, want %s", tt.statuses, got, tt.want)
			}
		})
	}
}
