package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// manualClock lets tests control refill without sleeping.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newManual(rate, burst float64) (*RateLimiter, *manualClock) {
	clock := &manualClock{t: time.Unix(1000, 0)}
	rl := NewRateLimiter(rate, burst)
	rl.now = clock.now
	rl.lastRefill = clock.now()
	return rl, clock
}

func TestNewRateLimiterStartsFull(t *testing.T) {
	rl, _ := newManual(1.0, 10.0)
	if tokens := rl.GetCurrentTokens(); tokens != 10 {
		t.Errorf("expected 10 tokens, got %.2f", tokens)
	}
}

func TestTryAcquireConsumesToken(t *testing.T) {
	rl, _ := newManual(1.0, 5.0)

	for i := 0; i < 5; i++ {
		if !rl.tryAcquire() {
			t.Fatalf("tryAcquire() failed on attempt %d", i+1)
		}
	}
	if rl.tryAcquire() {
		t.Error("tryAcquire() should fail when bucket is empty")
	}
}

func TestTokenRefill(t *testing.T) {
	rl, clock := newManual(10.0, 10.0)
	for i := 0; i < 10; i++ {
		rl.tryAcquire()
	}

	clock.advance(200 * time.Millisecond)
	if tokens := rl.GetCurrentTokens(); tokens < 1.99 || tokens > 2.01 {
		t.Errorf("expected 2 tokens after 200ms at 10/sec, got %.2f", tokens)
	}

	clock.advance(time.Hour)
	if tokens := rl.GetCurrentTokens(); tokens != 10 {
		t.Errorf("tokens should cap at 10, got %.2f", tokens)
	}
}

func TestTimeUntilNextToken(t *testing.T) {
	rl, _ := newManual(4.0, 1.0)
	if d := rl.timeUntilNextToken(); d != 0 {
		t.Errorf("full bucket wait = %v", d)
	}
	rl.tryAcquire()
	if d := rl.timeUntilNextToken(); d != 250*time.Millisecond {
		t.Errorf("empty bucket wait = %v, want 250ms", d)
	}
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(20.0, 1.0)
	rl.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait() returned after %v, expected to block for a refill", elapsed)
	}
}

func TestWaitRespectsContext(t *testing.T) {
	rl := NewRateLimiter(0.01, 1.0)
	rl.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}

func TestNilLimiterNeverBlocks(t *testing.T) {
	var rl *RateLimiter
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil Wait() = %v", err)
	}
}
