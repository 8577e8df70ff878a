package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"testing"
	"time"
)

// TestExecuteWithRetry_Success verifies basic success case returns nil on first attempt.
func TestExecuteWithRetry_Success(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}

	calls := 0
	err := ExecuteWithRetry(ctx, cfg, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestExecuteWithRetry_FatalError verifies no retry on fatal errors.
func TestExecuteWithRetry_FatalError(t *testing.T) {
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
	}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return &StatusError{Method: "POST", URL: "/x", StatusCode: 400}
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry on fatal), got %d", calls)
	}
}

// TestExecuteWithRetry_RecoversAfterTransientErrors verifies retryable errors are retried.
func TestExecuteWithRetry_RecoversAfterTransientErrors(t *testing.T) {
	cfg := Config{
		MaxRetries:   4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}

	calls := 0
	retries := 0
	cfg.OnRetry = func(attempt int, err error, errType ErrorType) {
		retries++
		if errType != ErrorTypeRetryable {
			t.Errorf("expected retryable, got %s", ErrorTypeName(errType))
		}
	}

	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return &StatusError{StatusCode: 503}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 || retries != 2 {
		t.Errorf("expected 3 calls and 2 retries, got %d and %d", calls, retries)
	}
}

// TestExecuteWithRetry_CustomClassify verifies the Classify override.
func TestExecuteWithRetry_CustomClassify(t *testing.T) {
	sentinel := errors.New("offset mismatch")
	cfg := DefaultConfig()
	cfg.Classify = func(err error) ErrorType {
		if errors.Is(err, sentinel) {
			return ErrorTypeFatal
		}
		return ClassifyError(err)
	}

	calls := 0
	err := ExecuteWithRetry(context.Background(), cfg, func() error {
		calls++
		return fmt.Errorf("503 upstream: %w", sentinel)
	})
	if !errors.Is(err, sentinel) || calls != 1 {
		t.Errorf("expected one fatal attempt, got %d calls and %v", calls, err)
	}
}

// TestExecuteWithRetry_ContextCancelledDuringSleep verifies retry returns quickly when context cancelled.
func TestExecuteWithRetry_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
	}

	calls := 0
	start := time.Now()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := ExecuteWithRetry(ctx, cfg, func() error {
		calls++
		return fmt.Errorf("connection reset")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected quick return after context cancel, but took %v", elapsed)
	}
	if calls < 1 {
		t.Errorf("expected at least 1 call, got %d", calls)
	}
}

// TestExecuteWithDelays_ExhaustsSchedule verifies one attempt plus one per delay.
func TestExecuteWithDelays_ExhaustsSchedule(t *testing.T) {
	cfg := DelayConfig{
		Delays: []time.Duration{0, time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond},
	}

	calls := 0
	var scheduled []time.Duration
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		scheduled = append(scheduled, delay)
	}

	err := ExecuteWithDelays(context.Background(), cfg, func() error {
		calls++
		return &StatusError{Method: "PATCH", URL: "/files/1", StatusCode: 502}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 502 {
		t.Errorf("expected wrapped StatusError 502, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts (1 + 4 retries), got %d", calls)
	}
	if len(scheduled) != 4 || scheduled[3] != 3*time.Millisecond {
		t.Errorf("unexpected schedule %v", scheduled)
	}
}

// TestExecuteWithDelays_BeforeRetry verifies the hook runs before each retry and can abort.
func TestExecuteWithDelays_BeforeRetry(t *testing.T) {
	abort := errors.New("resource gone")
	hooks := 0
	cfg := DelayConfig{
		Delays: []time.Duration{0, 0, 0},
		BeforeRetry: func(ctx context.Context, attempt int, lastErr error) error {
			hooks++
			if attempt == 2 {
				return abort
			}
			return nil
		},
	}

	calls := 0
	err := ExecuteWithDelays(context.Background(), cfg, func() error {
		calls++
		return errors.New("connection reset by peer")
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	if calls != 2 || hooks != 2 {
		t.Errorf("expected 2 calls and 2 hooks, got %d and %d", calls, hooks)
	}
}

// TestExecuteWithDelays_FatalStopsImmediately verifies no retry for client errors.
func TestExecuteWithDelays_FatalStopsImmediately(t *testing.T) {
	calls := 0
	err := ExecuteWithDelays(context.Background(), DelayConfig{Delays: []time.Duration{0, 0}}, func() error {
		calls++
		return &StatusError{StatusCode: 409}
	})
	if err == nil || calls != 1 {
		t.Errorf("expected single fatal attempt, got %d calls, err %v", calls, err)
	}
}

// TestExecuteWithDelays_Cancelled verifies cancellation during a delay.
func TestExecuteWithDelays_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := ExecuteWithDelays(ctx, DelayConfig{Delays: []time.Duration{10 * time.Second}}, func() error {
		return errors.New("i/o timeout")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not interrupt the delay")
	}
}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "dial failed" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

var _ net.Error = fakeNetErr{}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeSuccess},
		{"cancelled", context.Canceled, ErrorTypeFatal},
		{"401", &StatusError{StatusCode: nethttp.StatusUnauthorized}, ErrorTypeCredential},
		{"409", &StatusError{StatusCode: nethttp.StatusConflict}, ErrorTypeFatal},
		{"404", &StatusError{StatusCode: nethttp.StatusNotFound}, ErrorTypeFatal},
		{"429", &StatusError{StatusCode: nethttp.StatusTooManyRequests}, ErrorTypeRetryable},
		{"503 wrapped", fmt.Errorf("chunk: %w", &StatusError{StatusCode: 503}), ErrorTypeRetryable},
		{"net error", fmt.Errorf("patch: %w", fakeNetErr{}), ErrorTypeNetwork},
		{"reset string", errors.New("read: connection reset by peer"), ErrorTypeNetwork},
		{"s3 slowdown", errors.New("api error SlowDown: Please reduce your request rate"), ErrorTypeRetryable},
		{"azure sas", errors.New("AuthenticationFailed: signature not valid"), ErrorTypeCredential},
		{"unknown", errors.New("something odd"), ErrorTypeFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, ErrorTypeName(got), ErrorTypeName(tt.want))
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	if d := CalculateBackoff(0, time.Second, time.Minute); d != 0 {
		t.Errorf("attempt 0 should not wait, got %v", d)
	}
	for i := 0; i < 50; i++ {
		d := CalculateBackoff(10, 100*time.Millisecond, 2*time.Second)
		if d < 0 || d >= 2*time.Second {
			t.Fatalf("backoff %v outside [0, 2s)", d)
		}
	}
}

func TestStatusErrorMessage(t *testing.T) {
	se := &StatusError{Method: "HEAD", URL: "http://h/files/1", StatusCode: 410, Body: "gone"}
	want := "HEAD http://h/files/1: unexpected status 410 Gone: gone"
	if se.Error() != want {
		t.Errorf("got %q, want %q", se.Error(), want)
	}
}
