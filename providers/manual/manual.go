// Package manual implements the terminal adapter in the cascade: instead
// of provisioning an eSIM it files a manual-fulfillment request with the
// operators over Discord and reports the pending_manual sentinel.
package manual

import (
	"context"
	"errors"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/notify"
	"github.com/voyasim/simflow/providers"
)

const slug = "manual"

// Adapter wraps the Discord notifier behind the purchase contract.
type Adapter struct {
	providers.PurchaseOnly

	discord *notify.Discord
	logger  core.Logger

	// Request context the fulfillment service sets before invoking the
	// terminal path; the purchase request alone cannot carry it.
	orderNumber        string
	attemptedProviders []string
	failureReason      string
}

// New builds the manual terminal adapter.
func New(discord *notify.Discord, logger core.Logger) *Adapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{discord: discord, logger: logger}
}

func (a *Adapter) Slug() string        { return slug }
func (a *Adapter) DisplayName() string { return "Manual Fulfillment" }

// IsEnabled is true iff the Discord webhook is configured.
func (a *Adapter) IsEnabled() bool {
	return a.discord != nil && a.discord.Enabled()
}

// HealthCheck only reflects configuration; the webhook is not probed to
// avoid posting noise into the operator channel.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, string) {
	if !a.IsEnabled() {
		return false, "Discord webhook not configured"
	}
	return true, ""
}

// WithContext returns a copy primed with the cascade's failure context so
// the notification names what was tried and why it failed.
func (a *Adapter) WithContext(orderNumber string, attempted []string, reason string) *Adapter {
	clone := *a
	clone.orderNumber = orderNumber
	clone.attemptedProviders = attempted
	clone.failureReason = reason
	return &clone
}

// Purchase files the manual-fulfillment request. Unconfigured webhook is a
// non-retryable failure, a failed HTTP call is retryable, and a delivered
// notification yields the pending_manual sentinel.
func (a *Adapter) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	err := a.discordNotify(ctx, req)
	if err == nil {
		return core.PendingManual(true)
	}

	if errors.Is(err, core.ErrNotConfigured) {
		return core.Failure(core.KindValidation, "Discord webhook not configured", false)
	}
	a.logger.Error("Manual fulfillment notification failed", map[string]interface{}{
		"order_id":       req.OrderID,
		"correlation_id": req.CorrelationID,
		"error":          err.Error(),
	})
	return core.Failure(core.Classify(err), err.Error(), core.IsRetryable(err))
}

func (a *Adapter) discordNotify(ctx context.Context, req *core.PurchaseRequest) error {
	if a.discord == nil {
		return core.ErrNotConfigured
	}
	return a.discord.Notify(ctx, &notify.ManualRequest{
		OrderID:            req.OrderID,
		OrderNumber:        a.orderNumber,
		CorrelationID:      req.CorrelationID,
		CustomerEmail:      req.CustomerEmail,
		ProductID:          req.ProductID,
		ProviderSKU:        req.ProviderSKU,
		AttemptedProviders: a.attemptedProviders,
		FailureReason:      a.failureReason,
	})
}
