package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/resilience"
)

func newTestCascade(t *testing.T, adapters map[string]core.ChannelAdapter) *Cascade {
	t.Helper()
	breakers, err := resilience.NewBreakerStore(resilience.DefaultBreakerConfig())
	require.NoError(t, err)
	c := NewCascade(adapters, breakers, nil, nil, nil)
	c.PolicyFunc = fastPolicy
	return c
}

func cascadeOrder() *core.Order {
	return &core.Order{
		ID:            "rec_CASCADE",
		OrderNumber:   "2026082000002",
		CorrelationID: "00000000-0000-4000-8000-000000000002",
		CustomerEmail: "t@example.com",
		ProductID:     "japan-7d-1g",
		ProviderSKU:   "japan-7d-1g",
		Quantity:      1,
		Status:        core.StatusFulfillmentStarted,
	}
}

func TestCascadeOrdersByPriorityThenSlug(t *testing.T) {
	a := &scriptedAdapter{slug: "alpha", results: []*core.PurchaseResult{serverError()}}
	b := &scriptedAdapter{slug: "beta", results: []*core.PurchaseResult{serverError()}}
	c := &scriptedAdapter{slug: "gamma", results: []*core.PurchaseResult{serverError()}}
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{
		"alpha": a, "beta": b, "gamma": c,
	})

	configs := []core.ProviderConfig{
		{Slug: "gamma", Priority: 50, MaxRetries: 0, Active: true},
		{Slug: "alpha", Priority: 90, MaxRetries: 0, Active: true},
		{Slug: "beta", Priority: 90, MaxRetries: 0, Active: true},
	}

	outcome := cascade.Run(context.Background(), cascadeOrder(), configs)

	assert.Equal(t, []string{"alpha", "beta", "gamma"}, outcome.AttemptedProviders)
	require.Len(t, outcome.FailoverEvents, 2)
	assert.Equal(t, "alpha", outcome.FailoverEvents[0].From)
	assert.Equal(t, "beta", outcome.FailoverEvents[0].To)
}

func TestCascadeSkipsInactiveAndUnknownProviders(t *testing.T) {
	known := &scriptedAdapter{slug: "known", results: []*core.PurchaseResult{okESIM()}}
	off := &scriptedAdapter{slug: "off", results: []*core.PurchaseResult{okESIM()}}
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{"known": known, "off": off})

	configs := []core.ProviderConfig{
		{Slug: "off", Priority: 100, Active: false},
		{Slug: "ghost", Priority: 95, Active: true}, // no adapter registered
		{Slug: "known", Priority: 50, Active: true},
	}

	outcome := cascade.Run(context.Background(), cascadeOrder(), configs)

	require.NotNil(t, outcome.Result)
	assert.Equal(t, core.PurchaseOK, outcome.Result.Status)
	assert.Equal(t, "known", outcome.Provider)
	assert.Equal(t, int32(0), off.calls.Load())
}

func TestCascadeNoActiveProviders(t *testing.T) {
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{})

	outcome := cascade.Run(context.Background(), cascadeOrder(), nil)

	require.NotNil(t, outcome.Result)
	assert.Equal(t, core.PurchaseFailed, outcome.Result.Status)
	assert.False(t, outcome.Result.Retryable)
	assert.Empty(t, outcome.AttemptedProviders)
}

func TestCascadeAllCircuitsOpenIsRetryable(t *testing.T) {
	a := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{"airalo": a})
	cascade.breakers.Trip(context.Background(), "airalo")

	configs := []core.ProviderConfig{{Slug: "airalo", Priority: 100, Active: true}}
	outcome := cascade.Run(context.Background(), cascadeOrder(), configs)

	require.NotNil(t, outcome.Result)
	assert.Equal(t, core.PurchaseFailed, outcome.Result.Status)
	assert.True(t, outcome.Result.Retryable, "open circuits recover, callers may retry")
	assert.Contains(t, outcome.Result.ErrorMessage, "circuits are open")
	assert.Equal(t, int32(0), a.calls.Load())
}

func TestCascadeRecordsFailureReasons(t *testing.T) {
	a := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{
		core.Failure(core.KindProviderError, "no stock left", true),
	}}
	b := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{
		core.Failure(core.KindTimeout, "deadline hit", true),
	}}
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{"airalo": a, "esimcard": b})

	configs := []core.ProviderConfig{
		{Slug: "airalo", Priority: 100, MaxRetries: 0, Active: true},
		{Slug: "esimcard", Priority: 90, MaxRetries: 0, Active: true},
	}
	outcome := cascade.Run(context.Background(), cascadeOrder(), configs)

	assert.Equal(t, "no stock left", outcome.FailureReasons["airalo"])
	assert.Equal(t, "deadline hit", outcome.FailureReasons["esimcard"])
	summary := outcome.FailureSummary()
	assert.Contains(t, summary, "airalo: no stock left")
	assert.Contains(t, summary, "esimcard: deadline hit")
}

func TestCascadeRetryCountsInAttempt(t *testing.T) {
	a := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{
		serverError(), serverError(), okESIM(),
	}}
	cascade := newTestCascade(t, map[string]core.ChannelAdapter{"airalo": a})

	configs := []core.ProviderConfig{
		{Slug: "airalo", Priority: 100, MaxRetries: 3, Timeout: time.Second, Active: true},
	}
	outcome := cascade.Run(context.Background(), cascadeOrder(), configs)

	require.NotNil(t, outcome.Result)
	assert.Equal(t, core.PurchaseOK, outcome.Result.Status)
	require.Len(t, outcome.Attempts, 1)
	assert.Equal(t, 2, outcome.Attempts[0].Retries)
	assert.True(t, outcome.Attempts[0].Success)
	assert.Equal(t, int32(3), a.calls.Load())
}
