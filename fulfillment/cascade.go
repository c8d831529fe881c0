// Package fulfillment drives an order from payment to delivery: the
// provider cascade, the fulfillment service around it, the deadline
// wrapper bounding webhook handlers, and the reconciliation sweep that
// resumes orders a timeout left behind.
package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/resilience"
	"github.com/voyasim/simflow/telemetry"
)

const tracerName = "simflow/fulfillment"

// Attempt records the final outcome of one provider in the cascade.
type Attempt struct {
	Provider     string         `json:"provider"`
	Success      bool           `json:"success"`
	Retries      int            `json:"retries"`
	DurationMs   int64          `json:"duration_ms"`
	ErrorType    core.ErrorKind `json:"error_type,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// FailoverEvent marks the cascade moving from one provider to the next.
type FailoverEvent struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Reason       string `json:"reason"`
	AttemptIndex int    `json:"attempt_index"`
}

// CascadeOutcome aggregates one full cascade run.
type CascadeOutcome struct {
	// Result is the winning purchase, or the last failure when the
	// cascade exhausted.
	Result *core.PurchaseResult

	// Provider is the slug that fulfilled the order, empty on exhaustion.
	Provider string

	Attempts           []Attempt
	FailoverEvents     []FailoverEvent
	AttemptedProviders []string
	FailureReasons     map[string]string
}

// FailureSummary flattens the per-provider failure reasons for operator
// notifications.
func (o *CascadeOutcome) FailureSummary() string {
	if len(o.FailureReasons) == 0 {
		return "no providers available"
	}
	parts := make([]string, 0, len(o.FailureReasons))
	for _, slug := range o.AttemptedProviders {
		if reason, ok := o.FailureReasons[slug]; ok {
			parts = append(parts, fmt.Sprintf("%s: %s", slug, reason))
		}
	}
	return strings.Join(parts, "; ")
}

// Cascade tries providers strictly sequentially in priority order,
// skipping open circuits, until one purchase succeeds.
type Cascade struct {
	adapters  map[string]core.ChannelAdapter
	breakers  *resilience.BreakerStore
	steps     *telemetry.StepLogger
	metrics   *metrics.Metrics
	failovers metric.Int64Counter
	logger    core.Logger
	now       func() time.Time

	// PolicyFunc overrides the per-provider retry policy. Tests use it to
	// shrink backoff delays.
	PolicyFunc func(cfg core.ProviderConfig) resilience.Policy
}

// NewCascade builds the cascade over the adapter set.
func NewCascade(adapters map[string]core.ChannelAdapter, breakers *resilience.BreakerStore, steps *telemetry.StepLogger, m *metrics.Metrics, logger core.Logger) *Cascade {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if steps == nil {
		steps = telemetry.NewStepLogger()
	}
	failovers, _ := otel.Meter(tracerName).Int64Counter("simflow.cascade.failovers",
		metric.WithDescription("Provider failover events by edge."))
	return &Cascade{
		adapters:  adapters,
		breakers:  breakers,
		steps:     steps,
		metrics:   m,
		failovers: failovers,
		logger:    logger,
		now:       time.Now,
	}
}

// candidates returns the active, enabled providers in cascade order,
// before the breaker filter.
func (c *Cascade) candidates(configs []core.ProviderConfig) []core.ProviderConfig {
	eligible := make([]core.ProviderConfig, 0, len(configs))
	for _, cfg := range configs {
		if !cfg.Active {
			continue
		}
		adapter, ok := c.adapters[cfg.Slug]
		if !ok || !adapter.IsEnabled() {
			continue
		}
		eligible = append(eligible, cfg)
	}
	return resilience.SortProviders(eligible)
}

// Run executes the cascade for one order.
func (c *Cascade) Run(ctx context.Context, order *core.Order, configs []core.ProviderConfig) *CascadeOutcome {
	outcome := &CascadeOutcome{FailureReasons: make(map[string]string)}

	eligible := c.candidates(configs)
	if len(eligible) == 0 {
		outcome.Result = core.Failure(core.KindProviderError, "no active providers configured", false)
		return outcome
	}

	selection := c.steps.Step(order.CorrelationID, telemetry.StepProviderSelection, map[string]any{
		"order_id": order.ID,
	})
	usable := c.breakers.Filter(ctx, eligible)
	if len(usable) == 0 {
		selection.Fail(core.ErrCircuitOpen, map[string]any{"candidates": len(eligible)})
		outcome.Result = core.Failure(core.KindProviderError, "All provider circuits are open", true)
		return outcome
	}
	selected := make([]string, len(usable))
	for i, cfg := range usable {
		selected[i] = cfg.Slug
	}
	selection.Success(map[string]any{"providers": strings.Join(selected, ",")})

	req := &core.PurchaseRequest{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		CustomerEmail: order.CustomerEmail,
		ProductID:     order.ProductID,
		ProviderSKU:   order.ProviderSKU,
		Quantity:      order.Quantity,
	}
	tracer := otel.Tracer(tracerName)

	for i, cfg := range usable {
		adapter := c.adapters[cfg.Slug]
		outcome.AttemptedProviders = append(outcome.AttemptedProviders, cfg.Slug)

		attemptCtx, span := tracer.Start(ctx, "provider.purchase")
		span.SetAttributes(
			attribute.String("provider", cfg.Slug),
			attribute.String("order.id", order.ID),
			attribute.String("correlation.id", order.CorrelationID),
		)

		step := c.steps.Step(order.CorrelationID, telemetry.StepProviderCall, map[string]any{
			"order_id":      order.ID,
			"provider_name": cfg.Slug,
		})

		policy := resilience.DefaultPolicy(cfg.MaxRetries)
		if c.PolicyFunc != nil {
			policy = c.PolicyFunc(cfg)
		}
		policy.OnRetry = func(attempt int, delay time.Duration) {
			c.metrics.RetriesTotal.WithLabelValues(cfg.Slug).Inc()
			c.logger.Warn("Retrying provider purchase", map[string]interface{}{
				"provider":       cfg.Slug,
				"order_id":       order.ID,
				"correlation_id": order.CorrelationID,
				"attempt":        attempt,
				"delay_ms":       delay.Milliseconds(),
			})
		}

		started := c.now()
		result, retries := resilience.Purchase(attemptCtx, adapter, req, policy)
		elapsed := c.now().Sub(started)

		attempt := Attempt{
			Provider:   cfg.Slug,
			Retries:    retries,
			DurationMs: elapsed.Milliseconds(),
		}

		if result.Status == core.PurchaseOK {
			attempt.Success = true
			outcome.Attempts = append(outcome.Attempts, attempt)
			outcome.Result = result
			outcome.Provider = cfg.Slug

			state := c.breakers.RecordSuccess(ctx, cfg.Slug)
			c.metrics.ProviderAttempts.WithLabelValues(cfg.Slug, "success").Inc()
			step.Success(map[string]any{"retry_count": retries, "breaker_phase": string(state.Phase)})
			span.End()
			return outcome
		}

		attempt.ErrorType = result.ErrorType
		attempt.ErrorMessage = result.ErrorMessage
		outcome.Attempts = append(outcome.Attempts, attempt)
		outcome.FailureReasons[cfg.Slug] = result.ErrorMessage
		outcome.Result = result

		c.breakers.RecordFailure(ctx, cfg.Slug)
		c.metrics.ProviderAttempts.WithLabelValues(cfg.Slug, string(result.ErrorType)).Inc()
		step.Fail(fmt.Errorf("%s: %s", result.ErrorType, result.ErrorMessage), map[string]any{
			"retry_count": retries,
		})
		span.SetStatus(codes.Error, result.ErrorMessage)
		span.End()

		if i+1 < len(usable) {
			next := usable[i+1].Slug
			outcome.FailoverEvents = append(outcome.FailoverEvents, FailoverEvent{
				From:         cfg.Slug,
				To:           next,
				Reason:       result.ErrorMessage,
				AttemptIndex: i,
			})
			c.failovers.Add(ctx, 1, metric.WithAttributes(
				attribute.String("from", cfg.Slug),
				attribute.String("to", next),
			))
			c.logger.Warn("Provider failed, failing over", map[string]interface{}{
				"from":           cfg.Slug,
				"to":             next,
				"order_id":       order.ID,
				"correlation_id": order.CorrelationID,
				"reason":         result.ErrorMessage,
			})
		}
	}

	return outcome
}
