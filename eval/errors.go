package eval

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced by the evaluation core. Callers match
// them with errors.Is; the concrete error is usually an *EvalError
// wrapping one of these.
var (
	// ErrGraphInvalid indicates a compute graph violates a structural
	// rule: wrong OUTPUT count, unbound or doubly-bound input sockets,
	// missing edge endpoints, cycles, or file-name collisions during
	// package assembly.
	ErrGraphInvalid = errors.New("graph invalid")

	// ErrMissingInput indicates a required input was not supplied or
	// had the wrong type.
	ErrMissingInput = errors.New("required input missing")

	// ErrValidationFailed indicates a user input or expected answer
	// failed a task's per-kind validator.
	ErrValidationFailed = errors.New("validation failed")

	// ErrDispatchFailed indicates a broker publish exhausted retries.
	ErrDispatchFailed = errors.New("dispatch failed")

	// ErrRunnerReported indicates the runner returned a failure payload.
	ErrRunnerReported = errors.New("runner reported error")

	// ErrStaleResult indicates a runner result matched no pending task
	// result. Stale results are logged and dropped, never retried.
	ErrStaleResult = errors.New("stale result")

	// ErrStorageFailed indicates a persistence error. Request-scoped
	// work bubbles it to the caller; listener-scoped work leaves the
	// message unacknowledged so the broker redelivers it.
	ErrStorageFailed = errors.New("storage failed")
)

// EvalError is a structured error produced by the core. It carries the
// sentinel kind for errors.Is matching, the owning task where known,
// and an optional cause for errors.Unwrap.
type EvalError struct {
	Kind   error
	TaskID int
	Msg    string
	Cause  error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	msg := e.Msg
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.TaskID != 0 {
		return fmt.Sprintf("task %d: %s", e.TaskID, msg)
	}
	return msg
}

// Is reports whether target is this error's sentinel kind.
func (e *EvalError) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// Unwrap returns the underlying cause, if any.
func (e *EvalError) Unwrap() error {
	return e.Cause
}

func graphInvalid(format string, args ...any) error {
	return &EvalError{Kind: ErrGraphInvalid, Msg: fmt.Sprintf(format, args...)}
}

func missingInput(taskID int, format string, args ...any) error {
	return &EvalError{Kind: ErrMissingInput, TaskID: taskID, Msg: fmt.Sprintf(format, args...)}
}

func validationFailed(taskID int, cause error, format string, args ...any) error {
	return &EvalError{Kind: ErrValidationFailed, TaskID: taskID, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func storageFailed(cause error, format string, args ...any) error {
	return &EvalError{Kind: ErrStorageFailed, Msg: fmt.Sprintf(format, args...), Cause: cause}
}
