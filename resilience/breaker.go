package resilience

import (
	"fmt"
	"time"

	"github.com/voyasim/simflow/core"
)

// BreakerConfig carries the circuit thresholds. The zero value is invalid;
// use DefaultBreakerConfig or copy core.BreakerConfig through FromCore.
type BreakerConfig struct {
	// FailureThreshold consecutive failures trip a closed circuit open.
	FailureThreshold int

	// ResetTimeout is how long an open circuit rejects before a query
	// promotes it to half_open.
	ResetTimeout time.Duration

	// SuccessThreshold consecutive successes close a half_open circuit.
	SuccessThreshold int
}

// DefaultBreakerConfig returns the platform defaults: 5 failures to open,
// 30s reset, 2 successes to close.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// FromCore converts the configuration section into a breaker config.
func FromCore(cfg core.BreakerConfig) BreakerConfig {
	return BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		SuccessThreshold: cfg.SuccessThreshold,
	}
}

// Validate rejects thresholds that would make the circuit unable to move.
func (c BreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", c.FailureThreshold)
	}
	if c.SuccessThreshold <= 0 {
		return fmt.Errorf("success threshold must be positive, got %d", c.SuccessThreshold)
	}
	if c.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive, got %v", c.ResetTimeout)
	}
	return nil
}

// NewBreakerState returns the closed starting state for a provider.
func NewBreakerState(provider string, now time.Time) core.BreakerState {
	return core.BreakerState{
		Provider:        provider,
		Phase:           core.BreakerClosed,
		LastStateChange: now,
	}
}

// Evaluate applies time-based transitions to a state snapshot: an open
// circuit whose reset timeout has elapsed since the last failure becomes
// half_open. All other phases pass through unchanged. The returned bool
// reports whether the phase moved.
func (c BreakerConfig) Evaluate(s core.BreakerState, now time.Time) (core.BreakerState, bool) {
	if s.Phase == core.BreakerOpen && now.Sub(s.LastFailureTime) >= c.ResetTimeout {
		s.Phase = core.BreakerHalfOpen
		s.ConsecutiveSuccesses = 0
		s.LastStateChange = now
		return s, true
	}
	return s, false
}

// RecordSuccess folds one successful call into the state. In half_open the
// circuit closes once the success threshold is met; in closed the failure
// streak resets. The returned bool reports a phase change.
func (c BreakerConfig) RecordSuccess(s core.BreakerState, now time.Time) (core.BreakerState, bool) {
	s, _ = c.Evaluate(s, now)

	s.ConsecutiveFailures = 0
	s.ConsecutiveSuccesses++

	if s.Phase == core.BreakerHalfOpen && s.ConsecutiveSuccesses >= c.SuccessThreshold {
		s.Phase = core.BreakerClosed
		s.ConsecutiveSuccesses = 0
		s.LastStateChange = now
		return s, true
	}
	return s, false
}

// RecordFailure folds one failed call into the state. A half_open circuit
// reopens on any single failure; a closed circuit opens once the failure
// threshold is reached. The returned bool reports a phase change.
func (c BreakerConfig) RecordFailure(s core.BreakerState, now time.Time) (core.BreakerState, bool) {
	s, _ = c.Evaluate(s, now)

	s.ConsecutiveSuccesses = 0
	s.ConsecutiveFailures++
	s.LastFailureTime = now

	switch s.Phase {
	case core.BreakerHalfOpen:
		s.Phase = core.BreakerOpen
		s.LastStateChange = now
		return s, true
	case core.BreakerClosed:
		if s.ConsecutiveFailures >= c.FailureThreshold {
			s.Phase = core.BreakerOpen
			s.LastStateChange = now
			return s, true
		}
	}
	return s, false
}
