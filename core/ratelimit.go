package core

import (
	"sync"
	"time"
)

// RateLimiter bounds request rates per key using a fixed window. The server
// applies it to webhook endpoints keyed by remote address; adapters can use
// it to pace outbound calls per upstream. Fixed windows can burst at the
// boundary, which is acceptable for both uses.
type RateLimiter struct {
	limit  int
	window time.Duration

	buckets     sync.Map // map[string]*rateBucket
	cleanupMu   sync.Mutex
	lastCleanup time.Time
}

type rateBucket struct {
	mu        sync.Mutex
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a limiter allowing limit requests per window per key.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limit:       limit,
		window:      window,
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a request under key may proceed now. When denied,
// retryAfter is the number of seconds until the window resets.
func (l *RateLimiter) Allow(key string) (allowed bool, retryAfter int) {
	now := time.Now()
	l.cleanupIfNeeded(now)

	bucketInterface, _ := l.buckets.LoadOrStore(key, &rateBucket{
		resetTime: now.Add(l.window),
	})
	bucket := bucketInterface.(*rateBucket)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if now.After(bucket.resetTime) {
		bucket.count = 0
		bucket.resetTime = now.Add(l.window)
	}

	if bucket.count >= l.limit {
		return false, int(bucket.resetTime.Sub(now).Seconds()) + 1
	}

	bucket.count++
	return true, 0
}

// Remaining returns how many requests key has left in the current window.
func (l *RateLimiter) Remaining(key string) int {
	bucketInterface, ok := l.buckets.Load(key)
	if !ok {
		return l.limit
	}

	bucket := bucketInterface.(*rateBucket)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	if time.Now().After(bucket.resetTime) {
		return l.limit
	}
	remaining := l.limit - bucket.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// cleanupIfNeeded drops buckets idle past a full window, at most every
// five minutes.
func (l *RateLimiter) cleanupIfNeeded(now time.Time) {
	if now.Sub(l.lastCleanup) < 5*time.Minute {
		return
	}

	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if now.Sub(l.lastCleanup) < 5*time.Minute {
		return
	}

	l.buckets.Range(func(key, value interface{}) bool {
		bucket := value.(*rateBucket)
		bucket.mu.Lock()
		expired := now.After(bucket.resetTime.Add(l.window))
		bucket.mu.Unlock()
		if expired {
			l.buckets.Delete(key)
		}
		return true
	})

	l.lastCleanup = now
}
