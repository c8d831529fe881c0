package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
)

// memMachine wires a state machine to an in-memory status map.
type memMachine struct {
	*StateMachine
	status   map[string]core.OrderStatus
	metadata map[string]map[string]any
	persists int
}

func newMemMachine(initial map[string]core.OrderStatus) *memMachine {
	m := &memMachine{
		status:   initial,
		metadata: make(map[string]map[string]any),
	}
	m.StateMachine = NewStateMachine(
		func(ctx context.Context, id string) (core.OrderStatus, error) {
			s, ok := m.status[id]
			if !ok {
				return "", core.ErrOrderNotFound
			}
			return s, nil
		},
		func(ctx context.Context, id string, status core.OrderStatus, metadata map[string]any) error {
			m.persists++
			m.status[id] = status
			if metadata != nil {
				if m.metadata[id] == nil {
					m.metadata[id] = make(map[string]any)
				}
				for k, v := range metadata {
					m.metadata[id][k] = v
				}
			}
			return nil
		},
		nil,
	)
	return m
}

func TestTransitionHappyPath(t *testing.T) {
	m := newMemMachine(map[string]core.OrderStatus{"o1": core.StatusPaymentReceived})

	for _, target := range []core.OrderStatus{
		core.StatusFulfillmentStarted,
		core.StatusProviderConfirmed,
		core.StatusEmailSent,
		core.StatusDelivered,
	} {
		got, err := m.Transition(context.Background(), "o1", target, nil)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	}
	assert.Equal(t, 4, m.persists)
}

func TestTransitionRejectsInvalidEdge(t *testing.T) {
	m := newMemMachine(map[string]core.OrderStatus{"o1": core.StatusPaymentReceived})

	got, err := m.Transition(context.Background(), "o1", core.StatusEmailSent, nil)
	require.ErrorIs(t, err, core.ErrInvalidTransition)
	assert.Equal(t, core.StatusPaymentReceived, got, "order must stay where it was")
	assert.Zero(t, m.persists)
}

func TestTransitionIdempotentReapply(t *testing.T) {
	m := newMemMachine(map[string]core.OrderStatus{"o1": core.StatusFulfillmentStarted})

	got, err := m.Transition(context.Background(), "o1", core.StatusFulfillmentStarted, map[string]any{"dup": true})
	require.NoError(t, err)
	assert.Equal(t, core.StatusFulfillmentStarted, got)
	assert.Zero(t, m.persists, "re-applying the same transition must not persist")
	assert.Empty(t, m.metadata["o1"], "no duplicate metadata on replay")
}

func TestTransitionOperatorEdges(t *testing.T) {
	for _, from := range []core.OrderStatus{core.StatusPendingManual, core.StatusProviderFailed} {
		m := newMemMachine(map[string]core.OrderStatus{"o1": from})
		got, err := m.Transition(context.Background(), "o1", core.StatusDelivered, map[string]any{"completed_by": "ops"})
		require.NoError(t, err, "from %s", from)
		assert.Equal(t, core.StatusDelivered, got)
	}
}

func TestTransitionPersistFailureAborts(t *testing.T) {
	boom := errors.New("store down")
	machine := NewStateMachine(
		func(ctx context.Context, id string) (core.OrderStatus, error) {
			return core.StatusPaymentReceived, nil
		},
		func(ctx context.Context, id string, status core.OrderStatus, metadata map[string]any) error {
			return boom
		},
		nil,
	)

	got, err := machine.Transition(context.Background(), "o1", core.StatusFulfillmentStarted, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, core.StatusPaymentReceived, got)
}

func TestFailureBranchesFromNonTerminalStates(t *testing.T) {
	nonTerminal := []core.OrderStatus{
		core.StatusPaymentReceived,
		core.StatusFulfillmentStarted,
		core.StatusProviderConfirmed,
	}
	for _, from := range nonTerminal {
		assert.True(t, CanTransition(from, core.StatusProviderFailed), "from %s", from)
		assert.True(t, CanTransition(from, core.StatusPendingManual), "from %s", from)
	}
	assert.False(t, CanTransition(core.StatusDelivered, core.StatusProviderFailed))
	assert.False(t, CanTransition(core.StatusEmailSent, core.StatusProviderFailed))
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(core.StatusDelivered))
	assert.True(t, IsTerminal(core.StatusProviderFailed))
	assert.True(t, IsTerminal(core.StatusPendingManual))
	assert.False(t, IsTerminal(core.StatusFulfillmentStarted))
}
