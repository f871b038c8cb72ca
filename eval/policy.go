package eval

import (
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryPolicy indicates a RetryPolicy violates its
// constraints.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// RetryPolicy configures automatic retry of broker publishes.
//
// When a publish fails, the policy determines how long to wait before
// the next attempt. Exponential backoff with jitter avoids
// synchronized retry storms across concurrent dispatches.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base for exponential backoff. The delay before
	// retry n is min(BaseDelay * 2^n, MaxDelay) + jitter(0, BaseDelay).
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration
}

// DefaultDispatchPolicy is the publish retry policy of the dispatcher:
// 100 ms base, doubling, capped at 10 s, six attempts total.
func DefaultDispatchPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Validate checks the policy constraints: MaxAttempts >= 1 and, when
// both delays are set, MaxDelay >= BaseDelay.
func (rp RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff returns the delay before retry number attempt
// (zero-based): min(base * 2^attempt, maxDelay) plus a random jitter
// in [0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}

	delay := base * (1 << attempt)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	// Jitter spreads concurrent retries; timing only, not security.
	jitter := time.Duration(rand.Int63n(int64(base))) // #nosec G404
	return delay + jitter
}
