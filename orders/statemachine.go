// Package orders owns the durable order lifecycle: the status state
// machine, the channel-order normalizer, and the repository that maps
// orders onto the document store.
package orders

import (
	"context"
	"fmt"

	"github.com/voyasim/simflow/core"
)

// LoadFunc fetches the current status of an order.
type LoadFunc func(ctx context.Context, orderID string) (core.OrderStatus, error)

// PersistFunc writes the new status plus an additive metadata merge.
type PersistFunc func(ctx context.Context, orderID string, status core.OrderStatus, metadata map[string]any) error

// transitions is the fixed status DAG. Failure edges branch from every
// non-terminal state; the delivered edges out of the two failure terminals
// exist for manual completion by an operator.
var transitions = map[core.OrderStatus][]core.OrderStatus{
	core.StatusPaymentReceived: {
		core.StatusFulfillmentStarted,
		core.StatusProviderFailed,
		core.StatusPendingManual,
	},
	core.StatusFulfillmentStarted: {
		core.StatusProviderConfirmed,
		core.StatusProviderFailed,
		core.StatusPendingManual,
	},
	core.StatusProviderConfirmed: {
		core.StatusEmailSent,
		core.StatusDelivered,
		core.StatusProviderFailed,
		core.StatusPendingManual,
	},
	core.StatusEmailSent: {
		core.StatusDelivered,
	},
	core.StatusPendingManual: {
		core.StatusDelivered,
	},
	core.StatusProviderFailed: {
		core.StatusDelivered,
	},
	core.StatusDelivered: {},
}

// CanTransition reports whether from→to is an edge of the DAG.
func CanTransition(from, to core.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateMachine validates and applies order status transitions. Load and
// persist are injected so the machine stays storage-agnostic; the
// repository provides both in production.
type StateMachine struct {
	load    LoadFunc
	persist PersistFunc
	logger  core.Logger
}

// NewStateMachine builds a machine over the given load/persist pair.
func NewStateMachine(load LoadFunc, persist PersistFunc, logger core.Logger) *StateMachine {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &StateMachine{load: load, persist: persist, logger: logger}
}

// Transition moves the order to target, merging metadata into the record.
// Re-applying a transition that already happened is a no-op success: the
// current status is returned and nothing is persisted, so duplicate
// webhook deliveries cannot double-write metadata. An edge not in the DAG
// fails with core.ErrInvalidTransition; a persistence failure aborts the
// transition and surfaces to the caller.
func (m *StateMachine) Transition(ctx context.Context, orderID string, target core.OrderStatus, metadata map[string]any) (core.OrderStatus, error) {
	current, err := m.load(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("loading order %s: %w", orderID, err)
	}

	if current == target {
		m.logger.Debug("Transition already applied", map[string]interface{}{
			"order_id": orderID,
			"status":   string(current),
		})
		return current, nil
	}

	if !CanTransition(current, target) {
		return current, fmt.Errorf("%w: %s -> %s (order %s)", core.ErrInvalidTransition, current, target, orderID)
	}

	if err := m.persist(ctx, orderID, target, metadata); err != nil {
		return current, fmt.Errorf("persisting %s -> %s for order %s: %w", current, target, orderID, err)
	}

	m.logger.Info("Order status transition", map[string]interface{}{
		"order_id": orderID,
		"from":     string(current),
		"to":       string(target),
	})
	return target, nil
}

// IsTerminal reports whether no automatic edge leaves the status. The
// operator-only delivered edges do not count: the cascade never follows
// them.
func IsTerminal(status core.OrderStatus) bool {
	switch status {
	case core.StatusDelivered, core.StatusProviderFailed, core.StatusPendingManual:
		return true
	}
	return false
}
