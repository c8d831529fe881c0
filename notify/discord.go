// Package notify delivers operator-facing notifications: the Discord
// manual-fulfillment request webhook and the fallback failure alert sent
// through the email port.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/voyasim/simflow/core"
)

// embedColorRed matches the alert styling operators expect for
// fulfillment escalations.
const embedColorRed = 0xE74C3C

// ManualRequest carries everything an operator needs to fulfill an order
// by hand. CustomerEmail arrives unmasked; masking happens at payload
// construction so the live order record keeps the full address.
type ManualRequest struct {
	OrderID            string
	OrderNumber        string
	CorrelationID      string
	CustomerEmail      string
	ProductID          string
	ProviderSKU        string
	AttemptedProviders []string
	FailureReason      string
}

// Discord posts manual-fulfillment requests to a configured webhook.
type Discord struct {
	webhookURL string
	client     *http.Client
	logger     core.Logger
	now        func() time.Time
}

// NewDiscord builds the webhook client. An empty URL produces a disabled
// client whose Notify reports a non-retryable configuration failure.
func NewDiscord(cfg core.DiscordConfig, logger core.Logger) *Discord {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Discord{
		webhookURL: cfg.WebhookURL,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
		now:    time.Now,
	}
}

// Enabled reports whether a webhook URL is configured.
func (d *Discord) Enabled() bool {
	return d.webhookURL != ""
}

// Notify files one manual-fulfillment request. Unconfigured webhook is a
// non-retryable failure; transport and non-2xx responses are retryable.
func (d *Discord) Notify(ctx context.Context, req *ManualRequest) error {
	if !d.Enabled() {
		return &core.PlatformError{
			Op:            "discord.notify",
			Kind:          core.KindValidation,
			CorrelationID: req.CorrelationID,
			Message:       "Discord webhook not configured",
			Err:           core.ErrNotConfigured,
		}
	}

	payload := d.buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return &core.PlatformError{Op: "discord.notify", Kind: core.KindUnknown, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return &core.PlatformError{Op: "discord.notify", Kind: core.KindUnknown, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.CorrelationID)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return &core.PlatformError{
			Op:            "discord.notify",
			Kind:          core.KindNetworkError,
			CorrelationID: req.CorrelationID,
			Message:       "Discord webhook call failed",
			Retryable:     true,
			Err:           err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind, retryable := core.ClassifyHTTP(resp.StatusCode)
		return &core.PlatformError{
			Op:            "discord.notify",
			Kind:          kind,
			CorrelationID: req.CorrelationID,
			Message:       fmt.Sprintf("Discord webhook returned %d", resp.StatusCode),
			Retryable:     retryable || kind == core.KindRateLimit,
		}
	}

	d.logger.Info("Manual fulfillment request filed", map[string]interface{}{
		"order_id":       req.OrderID,
		"correlation_id": req.CorrelationID,
	})
	return nil
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Footer    *discordFooter `json:"footer,omitempty"`
	Timestamp string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (d *Discord) buildPayload(req *ManualRequest) discordPayload {
	product := req.ProductID
	if req.ProviderSKU != "" {
		product = fmt.Sprintf("%s (SKU %s)", req.ProductID, req.ProviderSKU)
	}
	attempted := strings.Join(req.AttemptedProviders, ", ")
	if attempted == "" {
		attempted = "none"
	}

	orderLabel := req.OrderID
	if req.OrderNumber != "" {
		orderLabel = fmt.Sprintf("%s (%s)", req.OrderNumber, req.OrderID)
	}

	return discordPayload{
		Embeds: []discordEmbed{{
			Title: "Manual eSIM Fulfillment Required",
			Color: embedColorRed,
			Fields: []discordField{
				{Name: "Order ID", Value: orderLabel, Inline: true},
				{Name: "Correlation ID", Value: req.CorrelationID, Inline: true},
				{Name: "Customer", Value: MaskEmail(req.CustomerEmail), Inline: true},
				{Name: "Product", Value: product, Inline: true},
				{Name: "Attempted Providers", Value: attempted},
				{Name: "Failure Reason", Value: truncate(req.FailureReason, 1000)},
				{Name: "Action Checklist", Value: strings.Join([]string{
					"1. Purchase the eSIM manually from a working supplier",
					"2. PATCH /admin/orders/{id} with iccid, activation_code, provider_used",
					"3. Resend the delivery email via /admin/orders/{id}/resend-email",
				}, "\n")},
			},
			Footer:    &discordFooter{Text: "simflow fulfillment"},
			Timestamp: d.now().UTC().Format(time.RFC3339),
		}},
	}
}

// MaskEmail hides the local part beyond its first two characters (one when
// shorter), keeping the domain: "jo***@example.com", "t***@example.com".
func MaskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at:]
	keep := 2
	if len(local) < keep {
		keep = len(local)
	}
	return local[:keep] + "***" + domain
}

func truncate(s string, limit int) string {
	if s == "" {
		return "unknown"
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}

// EmailFailureNotifier implements core.FailureNotifier over the email port,
// used when Discord is not configured.
type EmailFailureNotifier struct {
	Sender core.EmailSender
	To     string
}

// NotifyFulfillmentFailure alerts the operator inbox that an order failed
// without a manual-fulfillment request being filed.
func (n *EmailFailureNotifier) NotifyFulfillmentFailure(ctx context.Context, order *core.Order, reason string) error {
	if n.Sender == nil || n.To == "" {
		return core.ErrNotConfigured
	}
	subject := fmt.Sprintf("[simflow] fulfillment failed: order %s", order.OrderNumber)
	body := fmt.Sprintf(
		"Order %s (id %s, correlation %s) could not be fulfilled.\n\nReason: %s\n\nCustomer: %s\nProduct: %s\n",
		order.OrderNumber, order.ID, order.CorrelationID, reason, MaskEmail(order.CustomerEmail), order.ProductID,
	)
	_, err := n.Sender.Send(ctx, n.To, subject, body)
	return err
}
