package emit

// Emitter receives observability events from the evaluation core.
//
// Implementations should be:
//   - Non-blocking: evaluation and reconciliation must not stall on
//     observability backends
//   - Thread-safe: the orchestrator and listener emit concurrently
//   - Resilient: an emitter failure must never fail a submission
//
// Emit must not panic; backend errors are handled internally.
type Emitter interface {
	Emit(event Event)
}
