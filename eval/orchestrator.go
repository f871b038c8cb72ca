package eval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/evalhq/evalcore/eval/emit"
	"github.com/evalhq/evalcore/eval/store"
)

// Orchestrator drives the submission lifecycle: it evaluates every
// task of a definition against the submitted inputs, persists the
// submission with its task results in one atomic write, and only then
// dispatches the runner requests of the tasks left PENDING.
//
// Handlers may run Evaluate concurrently; the store is the only shared
// mutable state.
type Orchestrator struct {
	store      store.Store
	dispatcher *Dispatcher
	emitter    emit.Emitter
	metrics    *Metrics
}

// NewOrchestrator wires the orchestrator. emitter may be nil.
func NewOrchestrator(st store.Store, dispatcher *Dispatcher, emitter emit.Emitter, metrics *Metrics) *Orchestrator {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Orchestrator{store: st, dispatcher: dispatcher, emitter: emitter, metrics: metrics}
}

// EvaluateOptions tunes one evaluation run.
type EvaluateOptions struct {
	// TaskID restricts evaluation to a single task when non-nil.
	TaskID *int
}

// PublishDefinition persists a definition. Definitions are immutable
// once published; publishing again replaces the stored copy.
func (o *Orchestrator) PublishDefinition(ctx context.Context, def *Definition) error {
	record := store.DefinitionRecord{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
	}
	for _, task := range def.Tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("definition %d: failed to serialize task %d: %w", def.ID, task.TaskID(), err)
		}
		record.Tasks = append(record.Tasks, store.TaskRecord{
			DefinitionID: def.ID,
			ID:           task.TaskID(),
			Type:         string(task.TaskType()),
			Autograde:    task.Autograded(),
			Payload:      payload,
		})
	}
	if err := o.store.PutDefinition(ctx, record); err != nil {
		return storageFailed(err, "failed to persist definition %d", def.ID)
	}
	return nil
}

// LoadDefinition loads and decodes a stored definition, tasks in
// original id order.
func (o *Orchestrator) LoadDefinition(ctx context.Context, id int) (*Definition, error) {
	record, err := o.store.GetDefinition(ctx, id)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, err
		}
		return nil, storageFailed(err, "failed to load definition %d", id)
	}

	def := &Definition{ID: record.ID, Name: record.Name, Description: record.Description}
	for _, tr := range record.Tasks {
		task, err := DecodeTask(tr.Payload)
		if err != nil {
			return nil, fmt.Errorf("definition %d: %w", id, err)
		}
		def.Tasks = append(def.Tasks, task)
	}
	return def, nil
}

// pendingDispatch pairs a committed PENDING task result with the
// runner request that completes it.
type pendingDispatch struct {
	taskID        int
	correlationID string
	request       *RunnerRequest
}

// Evaluate runs one submission against a definition and returns the
// persisted submission record. Tasks without user input are SKIPPED
// with a warning; validation and graph errors become FAIL task results
// carrying the message, never errors to the caller. The submission and
// every task result commit atomically before any runner request is
// published.
func (o *Orchestrator) Evaluate(ctx context.Context, definitionID int, userInputs []UserInput, expectedAnswers []ExpectedAnswer, opts EvaluateOptions) (store.SubmissionRecord, error) {
	def, err := o.LoadDefinition(ctx, definitionID)
	if err != nil {
		return store.SubmissionRecord{}, err
	}

	inputIndex := make(map[int]json.RawMessage, len(userInputs))
	for _, in := range userInputs {
		inputIndex[in.TaskID] = in.Value
	}
	answerIndex := make(map[int]json.RawMessage, len(expectedAnswers))
	for _, ans := range expectedAnswers {
		answerIndex[ans.TaskID] = ans.Value
	}

	tasks := def.Tasks
	if opts.TaskID != nil {
		task, ok := def.TaskIndex()[*opts.TaskID]
		if !ok {
			return store.SubmissionRecord{}, fmt.Errorf("definition %d has no task %d", definitionID, *opts.TaskID)
		}
		tasks = []Task{task}
	}

	submissionID := uuid.NewString()

	var results []TaskEvalResult
	var dispatches []pendingDispatch
	for _, task := range tasks {
		result, dispatch := o.evaluateTask(submissionID, task, inputIndex, answerIndex)
		results = append(results, result)
		if dispatch != nil {
			dispatches = append(dispatches, *dispatch)
		}
	}

	sub := store.SubmissionRecord{
		ID:           submissionID,
		DefinitionID: definitionID,
		Status:       string(aggregateStatus(results)),
	}
	for _, r := range results {
		record := store.TaskResultRecord{
			SubmissionID: submissionID,
			DefinitionID: definitionID,
			TaskID:       r.TaskID,
			Status:       string(r.Status),
			Result:       r.Result,
		}
		if r.Status == StatusPending {
			// Correlation id, set iff PENDING.
			var corrID string
			if err := json.Unmarshal(r.Result, &corrID); err == nil {
				record.TaskSubmissionID = corrID
			}
		}
		if r.Error != "" {
			record.Result = marshalResult(map[string]string{"error": r.Error})
		}
		sub.TaskResults = append(sub.TaskResults, record)
	}

	// The PENDING rows must be durable before anything is published:
	// a listener reply can then never observe a missing row.
	if err := o.store.CreateSubmission(ctx, sub); err != nil {
		return store.SubmissionRecord{}, storageFailed(err, "failed to persist submission %s", submissionID)
	}
	o.metrics.submissionCreated(SubmissionStatus(sub.Status), len(dispatches))
	o.emitter.Emit(emit.Info(submissionID, 0, "submission_created", map[string]any{
		"definition_id": definitionID,
		"status":        sub.Status,
		"tasks":         len(sub.TaskResults),
	}))

	dispatchFailed := false
	for _, d := range dispatches {
		if err := o.dispatcher.Dispatch(ctx, d.request); err != nil {
			dispatchFailed = true
			o.emitter.Emit(emit.Warning(submissionID, d.taskID, "dispatch_failed", map[string]any{
				"correlation_id": d.correlationID,
				"error":          err.Error(),
			}))
			failure := marshalResult(map[string]string{"error": err.Error()})
			transition, terr := o.store.CompleteTaskResult(ctx, d.correlationID, store.StatusFail, failure)
			if terr != nil {
				return store.SubmissionRecord{}, storageFailed(terr, "failed to record dispatch failure for %s", d.correlationID)
			}
			o.metrics.resultReceived(transition.String(), transition == store.TransitionApplied)
		}
	}

	if dispatchFailed {
		// Reload so the returned record reflects the FAIL transitions.
		updated, err := o.store.GetSubmission(ctx, submissionID)
		if err != nil {
			return store.SubmissionRecord{}, storageFailed(err, "failed to reload submission %s", submissionID)
		}
		return updated, nil
	}
	return sub, nil
}

// evaluateTask produces the task result for one task, plus the runner
// dispatch when the task evaluates asynchronously.
func (o *Orchestrator) evaluateTask(submissionID string, task Task, inputs, answers map[int]json.RawMessage) (TaskEvalResult, *pendingDispatch) {
	taskID := task.TaskID()

	input, ok := inputs[taskID]
	if !ok {
		o.emitter.Emit(emit.Warning(submissionID, taskID, "task_skipped", map[string]any{
			"reason": "no user input",
		}))
		return TaskEvalResult{TaskID: taskID, Status: StatusSkipped}, nil
	}

	expected, ok := answers[taskID]
	if !ok {
		o.emitter.Emit(emit.Warning(submissionID, taskID, "no_expected_answer", nil))
		expected = nil
	}

	if err := task.ValidateUserInput(input); err != nil {
		return failResult(taskID, err), nil
	}
	if err := task.ValidateExpectedAnswer(expected); err != nil {
		return failResult(taskID, err), nil
	}

	result, request, err := task.Run(input, expected)
	if err != nil {
		return failResult(taskID, err), nil
	}

	if request == nil {
		return result, nil
	}
	return result, &pendingDispatch{
		taskID:        taskID,
		correlationID: request.SubmissionID,
		request:       request,
	}
}

// failResult converts an evaluation error into a FAIL task result.
func failResult(taskID int, err error) TaskEvalResult {
	return TaskEvalResult{TaskID: taskID, Status: StatusFail, Error: err.Error()}
}

// aggregateStatus folds task results into the submission status:
// PENDING while any task result is PENDING, then OK iff every result
// is SUCCESS, else FAIL.
func aggregateStatus(results []TaskEvalResult) SubmissionStatus {
	allSuccess := true
	for _, r := range results {
		if r.Status == StatusPending {
			return SubmissionPending
		}
		if r.Status != StatusSuccess {
			allSuccess = false
		}
	}
	if allSuccess {
		return SubmissionOK
	}
	return SubmissionFail
}
