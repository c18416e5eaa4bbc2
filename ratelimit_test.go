package main

import "testing"

func TestConnRateLimiterDisabledWithNilConfig(t *testing.T) {
	rl := newConnRateLimiter(nil)
	if rl != nil {
		t.Fatal("newConnRateLimiter(nil) should return nil, disabling limiting")
	}
	if !rl.allow() {
		t.Error("a nil rate limiter should always allow")
	}
}

func TestConnRateLimiterEnforcesBurst(t *testing.T) {
	rl := newConnRateLimiter(&ConnRateLimiterConfig{Rate: 1, Burst: 2})

	if !rl.allow() {
		t.Error("first message within burst should be allowed")
	}
	if !rl.allow() {
		t.Error("second message within burst should be allowed")
	}
	if rl.allow() {
		t.Error("third message beyond burst should be denied")
	}
}
