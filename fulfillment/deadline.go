package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/voyasim/simflow/core"
)

// DefaultBudget bounds a fulfillment run inside a 30s webhook window.
const DefaultBudget = 25 * time.Second

// TimeoutSentinel is returned when fulfillment outlives its budget. The
// underlying work keeps running; the order stays in fulfillment_started
// until it finishes or the reconciliation sweep picks it up.
type TimeoutSentinel struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	ElapsedMs     int64  `json:"elapsed_ms"`
	Message       string `json:"message"`
}

func (t *TimeoutSentinel) Error() string {
	return fmt.Sprintf("fulfillment deadline exceeded after %dms (order %s)", t.ElapsedMs, t.OrderID)
}

func (t *TimeoutSentinel) Unwrap() error { return core.ErrDeadlineExceeded }

// FulfillWithTimeout races Fulfill against the budget. On expiry the
// sentinel is returned and the fulfillment goroutine runs to completion in
// the background with an uncancelled context, so no state transition is
// ever cut off mid-write.
func FulfillWithTimeout(ctx context.Context, svc *Service, order *core.Order, configs []core.ProviderConfig, budget time.Duration) (*Result, *TimeoutSentinel) {
	if budget <= 0 {
		budget = DefaultBudget
	}

	started := svc.now()
	resultCh := make(chan *Result, 1)

	// Detached from the caller's cancellation: persistence must finish
	// even after the webhook response has gone out.
	workCtx := context.WithoutCancel(ctx)
	go func() {
		resultCh <- svc.Fulfill(workCtx, order, configs)
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case <-timer.C:
	}

	sentinel := &TimeoutSentinel{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		ElapsedMs:     svc.now().Sub(started).Milliseconds(),
		Message:       "fulfillment still running, order left for reconciliation",
	}
	svc.logger.Warn("Fulfillment exceeded deadline budget", map[string]interface{}{
		"order_id":       order.ID,
		"correlation_id": order.CorrelationID,
		"budget_ms":      budget.Milliseconds(),
	})

	// Log the eventual outcome so the background completion is traceable.
	go func() {
		res := <-resultCh
		svc.logger.Info("Timed-out fulfillment completed in background", map[string]interface{}{
			"order_id":       order.ID,
			"correlation_id": order.CorrelationID,
			"final_state":    string(res.FinalState),
			"success":        res.Success,
		})
	}()

	return nil, sentinel
}
