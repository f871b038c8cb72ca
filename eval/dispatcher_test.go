package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakePublisher records publishes and fails the first failures calls.
type fakePublisher struct {
	failures  int
	published [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, body []byte) error {
	if f.failures > 0 {
		f.failures--
		return fmt.Errorf("broker unavailable")
	}
	f.published = append(f.published, append([]byte(nil), body...))
	return nil
}

func testRequest() *RunnerRequest {
	return &RunnerRequest{
		SubmissionID: "corr-1",
		Environment:  RunnerEnvironment{Language: "python", TimeLimit: 10, MemoryLimit: 256},
	}
}

// instantSleep skips backoff waits and records them.
func instantSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
}

func TestDispatchPublishesRequest(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(pub, RetryPolicy{}, nil, nil)

	if err := d.Dispatch(context.Background(), testRequest()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}

	var req RunnerRequest
	if err := json.Unmarshal(pub.published[0], &req); err != nil {
		t.Fatalf("published body is not a runner request: %v", err)
	}
	if req.SubmissionID != "corr-1" {
		t.Errorf("published correlation id = %q", req.SubmissionID)
	}
}

func TestDispatchRetriesWithBackoff(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	d := NewDispatcher(pub, RetryPolicy{MaxAttempts: 4, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}, nil, nil)

	var delays []time.Duration
	d.sleep = instantSleep(&delays)

	if err := d.Dispatch(context.Background(), testRequest()); err != nil {
		t.Fatalf("Dispatch failed after retries: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 successful publish, got %d", len(pub.published))
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff waits, got %d", len(delays))
	}
	// Exponential: second wait is at least the first's exponential part.
	if delays[0] < 10*time.Millisecond || delays[1] < 20*time.Millisecond {
		t.Errorf("backoff did not grow: %v", delays)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	d := NewDispatcher(pub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}, nil, nil)

	var delays []time.Duration
	d.sleep = instantSleep(&delays)

	err := d.Dispatch(context.Background(), testRequest())
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errors.Is(err, ErrDispatchFailed) {
		t.Errorf("error %v does not match ErrDispatchFailed", err)
	}
	if len(delays) != 2 {
		t.Errorf("expected 2 backoff waits for 3 attempts, got %d", len(delays))
	}
	if len(pub.published) != 0 {
		t.Errorf("no publish should have succeeded, got %d", len(pub.published))
	}
}

func TestDispatchStopsOnCancel(t *testing.T) {
	pub := &fakePublisher{failures: 100}
	d := NewDispatcher(pub, RetryPolicy{MaxAttempts: 5, BaseDelay: time.Minute}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Dispatch(ctx, testRequest())
	if !errors.Is(err, ErrDispatchFailed) {
		t.Errorf("error %v does not match ErrDispatchFailed", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error %v does not unwrap to context.Canceled", err)
	}
}
