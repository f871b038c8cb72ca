package eval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/evalhq/evalcore/eval/emit"
)

// Publisher is the broker surface the dispatcher publishes on. It is
// satisfied by *broker.Publisher; tests substitute fakes.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// Dispatcher publishes runner requests on the broker's durable output
// queue. It is a thin publisher: delivery is at-least-once and
// idempotency at the runner is assumed. Failed publishes are retried
// with exponential backoff; exhaustion surfaces ErrDispatchFailed and
// the orchestrator transitions the owning task result to FAIL.
type Dispatcher struct {
	pub     Publisher
	policy  RetryPolicy
	emitter emit.Emitter
	metrics *Metrics

	// sleep is swapped in tests to avoid waiting out the backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher over pub. A zero policy falls
// back to DefaultDispatchPolicy; emitter may be nil.
func NewDispatcher(pub Publisher, policy RetryPolicy, emitter emit.Emitter, metrics *Metrics) *Dispatcher {
	if policy == (RetryPolicy{}) {
		policy = DefaultDispatchPolicy()
	}
	if emitter == nil {
		emitter = emit.NewNullEmitter()
	}
	return &Dispatcher{
		pub:     pub,
		policy:  policy,
		emitter: emitter,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Dispatch serializes and publishes one runner request. It blocks the
// caller through the retry schedule; it must only be invoked after the
// owning submission is durably committed, so a runner reply can never
// race ahead of the PENDING row.
func (d *Dispatcher) Dispatch(ctx context.Context, req *RunnerRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return &EvalError{Kind: ErrDispatchFailed, Msg: "failed to serialize runner request", Cause: err}
	}

	var lastErr error
	for attempt := 0; attempt < d.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, d.policy.BaseDelay, d.policy.MaxDelay)
			if err := d.sleep(ctx, delay); err != nil {
				return &EvalError{Kind: ErrDispatchFailed, Msg: "dispatch cancelled", Cause: err}
			}
		}

		d.metrics.dispatchAttempt()
		start := time.Now()
		if err := d.pub.Publish(ctx, body); err != nil {
			lastErr = err
			d.emitter.Emit(emit.Warning(req.SubmissionID, 0, "publish_retry", map[string]any{
				"attempt": attempt + 1,
				"error":   err.Error(),
			}))
			continue
		}
		d.metrics.publishSucceeded(time.Since(start))

		d.emitter.Emit(emit.Info(req.SubmissionID, 0, "request_dispatched", map[string]any{
			"packages": len(req.Packages),
			"attempts": attempt + 1,
		}))
		return nil
	}

	d.metrics.dispatchFailure()
	return &EvalError{
		Kind:  ErrDispatchFailed,
		Msg:   "publish exhausted retries",
		Cause: lastErr,
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
