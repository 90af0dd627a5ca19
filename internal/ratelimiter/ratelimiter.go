// Package ratelimiter provides token-bucket admission control for client
// commands. The session loop consults the limiter before turning a command
// into a task; over-limit commands receive a busy reply instead of queueing.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps golang.org/x/time/rate with the server's conventions:
// a zero rate means unlimited, and burst controls how many commands can be
// admitted back-to-back before the sustained rate applies.
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained with the
// given burst capacity. requestsPerSecond of 0 disables limiting.
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		// Unlimited. rate.Inf has awkward burst semantics, so use a value
		// no client workload will ever reach.
		requestsPerSecond = 1_000_000_000
		burst = requestsPerSecond
	}

	if burst == 0 {
		burst = 1
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one command may proceed right now, consuming a
// token if so. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
