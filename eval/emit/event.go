// Package emit provides pluggable observability for the evaluation
// core. Events describe submission-lifecycle milestones (task
// evaluated, request dispatched, result reconciled, stale result
// dropped) and flow to an Emitter: a log writer, an OpenTelemetry
// tracer, or nothing at all.
package emit

// Severity classifies an event for filtering and log rendering.
type Severity string

// Event severities.
const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Event is one observability record emitted during submission
// evaluation or result reconciliation.
type Event struct {
	// SubmissionID identifies the submission this event belongs to.
	// Empty for events outside any submission (broker lifecycle).
	SubmissionID string

	// TaskID identifies the task within the submission, when the event
	// concerns a single task result. Zero for submission-level events.
	TaskID int

	// Severity classifies the event. Defaults to INFO when empty.
	Severity Severity

	// Msg is a short machine-stable description, e.g. "task_dispatched",
	// "stale_result_dropped".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "correlation_id": the runner correlation id
	//   - "status": the resulting task or submission status
	//   - "error": error details
	//   - "attempts": publish attempts consumed
	Meta map[string]any
}

// Warning constructs a WARNING event.
func Warning(submissionID string, taskID int, msg string, meta map[string]any) Event {
	return Event{SubmissionID: submissionID, TaskID: taskID, Severity: SeverityWarning, Msg: msg, Meta: meta}
}

// Info constructs an INFO event.
func Info(submissionID string, taskID int, msg string, meta map[string]any) Event {
	return Event{SubmissionID: submissionID, TaskID: taskID, Severity: SeverityInfo, Msg: msg, Meta: meta}
}
