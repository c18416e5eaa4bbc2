package main

import (
	"golang.org/x/time/rate"
)

// connRateLimiter is a per-connection token bucket guarding against
// message flooding, configured from Config.RateLimit. A nil *Catbox
// RateLimiter disables limiting entirely (e.g. tests that don't set one).
type connRateLimiter struct {
	limiter *rate.Limiter
}

// newConnRateLimiter builds a limiter from the pool's configured rate, or
// nil if rate limiting is disabled.
func newConnRateLimiter(cfg *ConnRateLimiterConfig) *connRateLimiter {
	if cfg == nil || cfg.Rate <= 0 {
		return nil
	}
	return &connRateLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
	}
}

// allow reports whether another message may be processed right now. A
// nil receiver (limiting disabled) always allows.
func (r *connRateLimiter) allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}
