package core

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.Allow("client-a")
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter := limiter.Allow("client-a")
	if allowed {
		t.Error("4th request should be denied")
	}
	if retryAfter <= 0 {
		t.Errorf("retryAfter = %d, want positive", retryAfter)
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)

	if allowed, _ := limiter.Allow("a"); !allowed {
		t.Error("first request for a should be allowed")
	}
	if allowed, _ := limiter.Allow("b"); !allowed {
		t.Error("first request for b should be allowed")
	}
	if allowed, _ := limiter.Allow("a"); allowed {
		t.Error("second request for a should be denied")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter := NewRateLimiter(1, 30*time.Millisecond)

	if allowed, _ := limiter.Allow("k"); !allowed {
		t.Fatal("first request should be allowed")
	}
	if allowed, _ := limiter.Allow("k"); allowed {
		t.Fatal("second request in window should be denied")
	}

	time.Sleep(50 * time.Millisecond)

	if allowed, _ := limiter.Allow("k"); !allowed {
		t.Error("request after window reset should be allowed")
	}
}

func TestRateLimiterRemaining(t *testing.T) {
	limiter := NewRateLimiter(5, time.Minute)

	if got := limiter.Remaining("k"); got != 5 {
		t.Errorf("Remaining() before any request = %d, want 5", got)
	}

	limiter.Allow("k")
	limiter.Allow("k")

	if got := limiter.Remaining("k"); got != 3 {
		t.Errorf("Remaining() after 2 requests = %d, want 3", got)
	}
}
