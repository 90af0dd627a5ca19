package ratelimiter

import (
	"context"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{
			name:              "standard rate",
			requestsPerSecond: 100,
			burst:             200,
		},
		{
			name:              "low rate",
			requestsPerSecond: 1,
			burst:             2,
		},
		{
			name:              "unlimited (zero rate)",
			requestsPerSecond: 0,
			burst:             0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
			if limiter.limiter == nil {
				t.Fatal("internal limiter is nil")
			}
		})
	}
}

// TestAllow verifies that Allow() enforces the configured command rate.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	// The whole burst should be admitted immediately.
	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("command %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("command should be rejected after burst exhausted")
	}

	// One token is replenished every 100ms at 10 req/s.
	time.Sleep(110 * time.Millisecond)

	if !limiter.Allow() {
		t.Fatal("command should be allowed after token replenishment")
	}
}

// TestUnlimited verifies that a zero rate never rejects.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10_000; i++ {
		if !limiter.Allow() {
			t.Fatalf("unlimited limiter rejected command %d", i)
		}
	}
}

// TestWait verifies that Wait() respects context cancellation.
func TestWait(t *testing.T) {
	limiter := New(1, 1)

	// Drain the single burst token.
	if !limiter.Allow() {
		t.Fatal("first command should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when context expires before a token is available")
	}
}
