package http

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/driftbox/driftbox/internal/constants"
)

// ErrorType represents different classes of errors for retry strategy
type ErrorType int

const (
	// ErrorTypeSuccess indicates operation succeeded
	ErrorTypeSuccess ErrorType = iota
	// ErrorTypeCredential indicates authentication/authorization failure (401, 403, expired token)
	ErrorTypeCredential
	// ErrorTypeNetwork indicates network/connection issues (timeouts, connection refused, etc.)
	ErrorTypeNetwork
	// ErrorTypeRetryable indicates server errors that can be retried (500, 502, 503, throttling)
	ErrorTypeRetryable
	// ErrorTypeFatal indicates client errors that should not be retried (400, 404, 409, protocol violations)
	ErrorTypeFatal
)

// StatusError is returned when a server answers with an unexpected HTTP status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string // first bytes of the response body, for diagnostics
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, nethttp.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// NewStatusError builds a StatusError from a response, reading at most 512 body bytes.
func NewStatusError(resp *nethttp.Response) *StatusError {
	se := &StatusError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		se.URL = resp.Request.URL.Redacted()
	}
	if resp.Body != nil {
		buf := make([]byte, 512)
		n, _ := resp.Body.Read(buf)
		se.Body = strings.TrimSpace(string(buf[:n]))
	}
	return se
}

// Config holds retry parameters for ExecuteWithRetry
type Config struct {
	// MaxRetries is the maximum number of attempts (default: 5)
	MaxRetries int
	// InitialDelay is the base delay for exponential backoff (default: 200ms)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 15s)
	MaxDelay time.Duration
	// Classify overrides ClassifyError, e.g. to mark domain sentinels as fatal
	Classify func(error) ErrorType
	// OnRetry is an optional callback invoked before each retry attempt
	OnRetry func(attempt int, err error, errorType ErrorType)
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:   constants.MaxRetries,
		InitialDelay: constants.RetryInitialDelay,
		MaxDelay:     constants.RetryMaxDelay,
	}
}

// ClassifyError determines the error type for retry strategy.
// Typed errors (StatusError, net.Error) are inspected first; anything else
// falls back to message matching, which covers S3 and Azure SDK error strings.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeSuccess
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeFatal
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == nethttp.StatusUnauthorized || se.StatusCode == nethttp.StatusForbidden:
			return ErrorTypeCredential
		case se.StatusCode == nethttp.StatusTooManyRequests || se.StatusCode == nethttp.StatusRequestTimeout:
			return ErrorTypeRetryable
		case se.StatusCode >= 500:
			return ErrorTypeRetryable
		default:
			return ErrorTypeFatal
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	// Credential-related errors
	if strings.Contains(errStr, "expired") ||
		strings.Contains(errStr, "invalid token") ||
		strings.Contains(errStr, "expiredtoken") ||
		strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "authentication failed") ||
		strings.Contains(errStr, "authenticationfailed") ||
		strings.Contains(errStr, "invalid sas") ||
		strings.Contains(errStr, "signature not valid") {
		return ErrorTypeCredential
	}

	// Network errors - retryable with backoff
	if strings.Contains(errStr, "tls handshake timeout") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "timeout") {
		return ErrorTypeNetwork
	}

	// Server issues, rate limiting (AWS RequestTimeout/SlowDown, Azure ServerBusy)
	if strings.Contains(errStr, "requesttimeout") ||
		strings.Contains(errStr, "internalerror") ||
		strings.Contains(errStr, "serviceunavailable") ||
		strings.Contains(errStr, "slowdown") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "serverbusy") ||
		strings.Contains(errStr, "operationtimeout") ||
		strings.Contains(errStr, "service unavailable") {
		return ErrorTypeRetryable
	}

	// Unknown errors - treat as fatal to avoid infinite retries on unexpected errors
	return ErrorTypeFatal
}

// IsRetryable reports whether ClassifyError would retry err.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeNetwork, ErrorTypeRetryable:
		return true
	default:
		return false
	}
}

// CalculateBackoff returns exponential backoff duration with full jitter
//
// Formula: random(0, min(maxDelay, initialDelay * 2^attempt))
func CalculateBackoff(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt <= 0 || initialDelay <= 0 {
		return 0
	}

	base := time.Duration(1<<uint(attempt)) * initialDelay
	if base > maxDelay || base <= 0 {
		base = maxDelay
	}

	return time.Duration(rand.Int63n(int64(base)))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs an operation with exponential backoff.
//
// Retry strategy:
//   - Credential errors: retry after 1s (SDK credential providers refresh on their own)
//   - Network/Retryable errors: Exponential backoff with full jitter
//   - Fatal errors: Return immediately without retry
//   - Context cancellation: Return immediately
func ExecuteWithRetry(ctx context.Context, config Config, operation func() error) error {
	classify := config.Classify
	if classify == nil {
		classify = ClassifyError
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 1
	}

	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		errType := classify(err)
		if attempt == config.MaxRetries-1 {
			break
		}

		var wait time.Duration
		switch errType {
		case ErrorTypeSuccess:
			return nil
		case ErrorTypeFatal:
			return err
		case ErrorTypeCredential:
			wait = time.Second
		case ErrorTypeNetwork, ErrorTypeRetryable:
			wait = CalculateBackoff(attempt, config.InitialDelay, config.MaxDelay)
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt+1, err, errType)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxRetries, lastErr)
}

// DelayConfig holds parameters for ExecuteWithDelays.
type DelayConfig struct {
	// Delays lists the wait before each retry; len(Delays) is the retry count.
	Delays []time.Duration
	// Classify overrides ClassifyError
	Classify func(error) ErrorType
	// BeforeRetry runs after the wait and before the next attempt. A non-nil
	// error aborts the retry loop and is returned as-is.
	BeforeRetry func(ctx context.Context, attempt int, lastErr error) error
	// OnRetry is an optional callback invoked when a retry is scheduled
	OnRetry func(attempt int, err error, delay time.Duration)
}

// ExecuteWithDelays runs an operation once and retries retryable failures after
// each delay of a fixed schedule. Credential and fatal errors are returned at once.
func ExecuteWithDelays(ctx context.Context, config DelayConfig, operation func() error) error {
	classify := config.Classify
	if classify == nil {
		classify = ClassifyError
	}

	attempts := len(config.Delays) + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := config.Delays[attempt-1]
			if config.OnRetry != nil {
				config.OnRetry(attempt, lastErr, delay)
			}
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			if config.BeforeRetry != nil {
				if err := config.BeforeRetry(ctx, attempt, lastErr); err != nil {
					return err
				}
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		switch classify(err) {
		case ErrorTypeNetwork, ErrorTypeRetryable:
			continue
		default:
			return err
		}
	}

	return fmt.Errorf("giving up after %d retries: %w", len(config.Delays), lastErr)
}

// ErrorTypeName returns a human-readable name for an ErrorType
func ErrorTypeName(errType ErrorType) string {
	switch errType {
	case ErrorTypeSuccess:
		return "success"
	case ErrorTypeCredential:
		return "credential"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeRetryable:
		return "retryable"
	case ErrorTypeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
