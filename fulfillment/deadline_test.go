package fulfillment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
)

func TestFulfillWithTimeoutFastPath(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo}, nil)
	h.configs = h.configs[:1]

	res, sentinel := FulfillWithTimeout(context.Background(), h.svc, h.order, h.configs, time.Second)

	assert.Nil(t, sentinel)
	require.NotNil(t, res)
	assert.Equal(t, core.StatusDelivered, res.FinalState)
}

func TestFulfillWithTimeoutReturnsSentinel(t *testing.T) {
	airalo := &scriptedAdapter{
		slug:    "airalo",
		results: []*core.PurchaseResult{okESIM()},
		delay:   300 * time.Millisecond,
	}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo}, nil)
	h.configs = h.configs[:1]

	budget := 100 * time.Millisecond
	res, sentinel := FulfillWithTimeout(context.Background(), h.svc, h.order, h.configs, budget)

	assert.Nil(t, res)
	require.NotNil(t, sentinel)
	assert.Equal(t, h.order.ID, sentinel.OrderID)
	assert.Equal(t, h.order.CorrelationID, sentinel.CorrelationID)
	assert.GreaterOrEqual(t, sentinel.ElapsedMs, budget.Milliseconds())
	assert.True(t, errors.Is(sentinel, core.ErrDeadlineExceeded))

	// The synchronous path has timed out but the pipeline keeps running in
	// the background; right now the order is still mid-flight.
	stored, err := h.repo.Get(context.Background(), h.order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusFulfillmentStarted, stored.Status)

	// Eventually the detached run completes and persists the real outcome.
	require.Eventually(t, func() bool {
		o, err := h.repo.Get(context.Background(), h.order.ID)
		return err == nil && o.Status == core.StatusDelivered
	}, 2*time.Second, 20*time.Millisecond)
}

func TestFulfillWithTimeoutSurvivesCallerCancellation(t *testing.T) {
	airalo := &scriptedAdapter{
		slug:    "airalo",
		results: []*core.PurchaseResult{okESIM()},
		delay:   200 * time.Millisecond,
	}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo}, nil)
	h.configs = h.configs[:1]

	ctx, cancel := context.WithCancel(context.Background())
	_, sentinel := FulfillWithTimeout(ctx, h.svc, h.order, h.configs, 50*time.Millisecond)
	require.NotNil(t, sentinel)
	cancel()

	// Caller cancellation must not kill persistence of the detached run.
	require.Eventually(t, func() bool {
		o, err := h.repo.Get(context.Background(), h.order.ID)
		return err == nil && o.Status == core.StatusDelivered
	}, 2*time.Second, 20*time.Millisecond)
}
