// Package resilience implements the retry policy and the circuit breaker
// layer that gate every provider purchase: exponential backoff with jitter,
// the per-provider breaker state machine, and the breaker store that shares
// breaker state across instances through the document store.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/voyasim/simflow/core"
)

// Policy configures retry behavior for one provider.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt, so the
	// loop performs MaxRetries+1 attempts in total.
	MaxRetries int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration

	// JitterFraction spreads delays symmetrically (±fraction) so parallel
	// workers retrying the same supplier do not synchronize.
	JitterFraction float64

	// OnRetry is invoked before each backoff sleep with the 0-indexed
	// attempt that just failed and the computed delay.
	OnRetry func(attempt int, delay time.Duration)

	// rand overrides the jitter source in tests.
	rand func() float64
}

// DefaultPolicy returns the platform retry policy: base 1s, cap 30s,
// ±30% jitter.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:     maxRetries,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.3,
	}
}

// Backoff computes the sleep before retrying after the 0-indexed attempt n:
// min(base·2^n, cap) with symmetric jitter applied, floored at zero.
func (p Policy) Backoff(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}

	random := p.rand
	if random == nil {
		random = rand.Float64
	}
	// U[-jitter, +jitter]
	u := (random()*2 - 1) * p.JitterFraction
	d := time.Duration(math.Floor(base * (1 + u)))
	if d < 0 {
		d = 0
	}
	return d
}

// Purchase runs one adapter purchase under the retry policy. Retryable
// failures are re-attempted up to MaxRetries times with backoff; the first
// non-retryable failure and any success return immediately. The second
// return value is the number of retries performed (0 when the first attempt
// settled it). The sleep is skipped after the final attempt; a cancelled
// context during a sleep returns the last observed result.
func Purchase(ctx context.Context, adapter core.ChannelAdapter, req *core.PurchaseRequest, policy Policy) (*core.PurchaseResult, int) {
	var last *core.PurchaseResult

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		last = adapter.Purchase(ctx, req)
		if last == nil {
			last = core.Failure(core.KindUnknown, "adapter returned no result", false)
		}
		if last.Status != core.PurchaseFailed || !last.Retryable {
			return last, attempt
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, attempt
		case <-timer.C:
		}
	}
	return last, policy.MaxRetries
}

// Do retries fn under the policy using the error taxonomy: retryable kinds
// per core.IsRetryable are re-attempted, everything else aborts the loop.
func Do(ctx context.Context, policy Policy, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !core.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxRetries {
			break
		}

		delay := policy.Backoff(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}
