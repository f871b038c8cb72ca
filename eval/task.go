package eval

import (
	"encoding/json"
	"fmt"
)

// TaskType discriminates task variants in serialized definitions.
type TaskType string

// Recognized task variants. PROGRAMMING evaluates asynchronously
// through the runner; the others short-circuit to a terminal status.
const (
	TaskProgramming      TaskType = "PROGRAMMING_TASK"
	TaskMultipleChoice   TaskType = "MULTIPLE_CHOICE_TASK"
	TaskMultipleResponse TaskType = "MULTIPLE_RESPONSE_TASK"
	TaskShortAnswer      TaskType = "SHORT_ANSWER_TASK"
)

// TaskStatus is the state of one task result within a submission.
type TaskStatus string

// Task result states. PENDING means a runner reply is outstanding;
// the listener transitions it to exactly one terminal state.
const (
	StatusPending TaskStatus = "PENDING"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFail    TaskStatus = "FAIL"
	StatusSkipped TaskStatus = "SKIPPED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFail || s == StatusSkipped
}

// SubmissionStatus is the aggregate state of a submission.
type SubmissionStatus string

// Submission states. PENDING while any task result is PENDING, then
// OK iff every task result is SUCCESS, else FAIL.
const (
	SubmissionPending SubmissionStatus = "PENDING"
	SubmissionOK      SubmissionStatus = "OK"
	SubmissionFail    SubmissionStatus = "FAIL"
)

// TaskEvalResult is the outcome of evaluating one task. For
// programming tasks the status is PENDING and Result holds the
// correlation id of the outstanding runner request; for synchronous
// variants the status is terminal and Result holds the graded value.
type TaskEvalResult struct {
	TaskID int             `json:"task_id"`
	Status TaskStatus      `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Task is one graded unit within a definition. Implementations are
// polymorphic over the capability set {validate user input, validate
// expected answer, run}; decoding dispatches on the "type" field
// through the taskDecoders table rather than inheritance.
//
// Run never performs I/O. Programming tasks return the assembled
// RunnerRequest alongside the PENDING result so the orchestrator can
// commit the submission before anything is published.
type Task interface {
	TaskID() int
	TaskType() TaskType
	Autograded() bool

	// ValidateUserInput checks the raw user input against the task's
	// per-kind schema.
	ValidateUserInput(raw json.RawMessage) error

	// ValidateExpectedAnswer checks the raw expected answer. A nil raw
	// value is always accepted: grading without an expected answer is
	// the task kind's responsibility.
	ValidateExpectedAnswer(raw json.RawMessage) error

	// Run evaluates the task. The returned request is non-nil only for
	// asynchronous variants and must be dispatched after the owning
	// submission is durably committed.
	Run(userInput, expectedAnswer json.RawMessage) (TaskEvalResult, *RunnerRequest, error)
}

// TaskBase carries the fields shared by every task variant.
type TaskBase struct {
	ID        int      `json:"id"`
	Type      TaskType `json:"type"`
	Autograde bool     `json:"autograde"`
}

// TaskID implements Task.
func (b TaskBase) TaskID() int { return b.ID }

// TaskType implements Task.
func (b TaskBase) TaskType() TaskType { return b.Type }

// Autograded implements Task.
func (b TaskBase) Autograded() bool { return b.Autograde }

// taskDecoders maps the type discriminator to a decoding function.
// Adding a task variant means registering one entry here.
var taskDecoders = map[TaskType]func(raw json.RawMessage) (Task, error){
	TaskProgramming:      decodeProgrammingTask,
	TaskMultipleChoice:   decodeMultipleChoiceTask,
	TaskMultipleResponse: decodeMultipleResponseTask,
	TaskShortAnswer:      decodeShortAnswerTask,
}

// DecodeTask decodes one serialized task, dispatching on its "type"
// discriminator.
func DecodeTask(raw json.RawMessage) (Task, error) {
	var head struct {
		Type TaskType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("task: invalid payload: %w", err)
	}
	decode, ok := taskDecoders[head.Type]
	if !ok {
		return nil, fmt.Errorf("task: unknown type %q", head.Type)
	}
	return decode(raw)
}

// marshalResult serializes a graded value for TaskEvalResult.Result.
func marshalResult(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
