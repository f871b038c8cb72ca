package eval

import (
	"context"
	"encoding/json"

	"github.com/evalhq/evalcore/eval/emit"
	"github.com/evalhq/evalcore/eval/store"
)

// Consumer is the broker surface the listener reads from. Deliveries
// arrive on the channel; Ack and Nack settle them by delivery tag.
// It is satisfied by *broker.Consumer; tests substitute fakes.
type Consumer interface {
	Deliveries() <-chan Delivery
	Ack(tag uint64) error
	Nack(tag uint64, requeue bool) error
}

// Delivery is one message received from the result queue.
type Delivery struct {
	Tag  uint64
	Body []byte
}

// resultEnvelope is the wire format of a runner reply. SubmissionID is
// the correlation id assigned at dispatch, not the parent submission's
// id.
type resultEnvelope struct {
	SubmissionID string          `json:"submission_id"`
	Result       json.RawMessage `json:"result"`
}

// Listener consumes runner replies and reconciles them with the
// PENDING task results in the store. Every delivery resolves to
// exactly one of: applied (transition to terminal), duplicate
// (terminal already, dropped), or stale (no matching row, dropped).
// Only storage failures leave a delivery unsettled for redelivery.
type Listener struct {
	store   store.Store
	emitter emit.Emitter
	metrics *Metrics
}

// NewListener wires the listener. emitter may be nil.
func NewListener(st store.Store, emitter emit.Emitter, metrics *Metrics) *Listener {
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Listener{store: st, emitter: emitter, metrics: metrics}
}

// Run consumes deliveries until ctx is cancelled or the delivery
// channel closes. Malformed and stale messages are acknowledged and
// dropped; a storage failure nacks the delivery back onto the queue.
// A failed ack or nack is warned and tolerated: the broker redelivers
// unsettled deliveries once the channel recovers, and transitions are
// write-once, so the redelivery is a harmless duplicate.
func (l *Listener) Run(ctx context.Context, consumer Consumer) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-consumer.Deliveries():
			if !ok {
				return nil
			}
			if err := l.HandleMessage(ctx, d.Body); err != nil {
				if nerr := consumer.Nack(d.Tag, true); nerr != nil {
					l.settleFailed("nack", d.Tag, nerr)
				}
				continue
			}
			if aerr := consumer.Ack(d.Tag); aerr != nil {
				l.settleFailed("ack", d.Tag, aerr)
			}
		}
	}
}

// settleFailed records an ack or nack that could not reach the broker,
// typically mid-reconnect.
func (l *Listener) settleFailed(op string, tag uint64, err error) {
	l.emitter.Emit(emit.Event{
		Severity: emit.SeverityWarning,
		Msg:      "delivery_settle_failed",
		Meta: map[string]any{
			"op":    op,
			"tag":   tag,
			"error": err.Error(),
		},
	})
}

// HandleMessage reconciles one runner reply with the store. A non-nil
// error means the message should be redelivered; every other outcome,
// including malformed, duplicate, and stale messages, consumes the
// delivery.
func (l *Listener) HandleMessage(ctx context.Context, body []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.SubmissionID == "" {
		// Redelivery cannot fix a malformed message; drop it.
		l.emitter.Emit(emit.Event{
			Severity: emit.SeverityError,
			Msg:      "malformed_result_dropped",
			Meta:     map[string]any{"body_bytes": len(body)},
		})
		return nil
	}

	status := store.StatusSuccess
	if runnerReportedError(env.Result) {
		status = store.StatusFail
	}

	transition, err := l.store.CompleteTaskResult(ctx, env.SubmissionID, status, env.Result)
	if err != nil {
		return &EvalError{Kind: ErrStorageFailed, Msg: "failed to complete task result " + env.SubmissionID, Cause: err}
	}
	l.metrics.resultReceived(transition.String(), transition == store.TransitionApplied)

	switch transition {
	case store.TransitionApplied:
		l.emitter.Emit(emit.Event{
			Severity: emit.SeverityInfo,
			Msg:      "result_reconciled",
			Meta: map[string]any{
				"correlation_id": env.SubmissionID,
				"status":         status,
			},
		})
	case store.TransitionAlreadyTerminal:
		l.emitter.Emit(emit.Event{
			Severity: emit.SeverityWarning,
			Msg:      "duplicate_result_dropped",
			Meta:     map[string]any{"correlation_id": env.SubmissionID},
		})
	case store.TransitionNotFound:
		l.emitter.Emit(emit.Event{
			Severity: emit.SeverityWarning,
			Msg:      "stale_result_dropped",
			Meta:     map[string]any{"correlation_id": env.SubmissionID},
		})
	}
	return nil
}

// runnerReportedError reports whether a runner result payload carries
// an execution error: a JSON object with a non-null "error" member.
func runnerReportedError(result json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(result, &probe); err != nil {
		return false
	}
	raw, ok := probe["error"]
	return ok && string(raw) != "null"
}
