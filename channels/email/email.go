// Package email exposes the support inbox as an inquiry channel. Inbound
// mail arrives through an external ingest (out of scope here), so the
// adapter is push-only: it cannot list inquiries, but it can reply through
// the injected sender port.
package email

import (
	"context"

	"github.com/voyasim/simflow/core"
)

const slug = "email"

// Adapter is the email channel.
type Adapter struct {
	core.InquiryOnly

	cfg    core.EmailConfig
	sender core.EmailSender
	logger core.Logger
}

// New builds the adapter. It is enabled only when both a sender port and a
// from-address are configured.
func New(cfg core.EmailConfig, sender core.EmailSender, logger core.Logger) *Adapter {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{cfg: cfg, sender: sender, logger: logger}
}

func (a *Adapter) Slug() string        { return slug }
func (a *Adapter) DisplayName() string { return "Email" }

func (a *Adapter) IsEnabled() bool {
	return a.sender != nil && a.cfg.FromAddress != ""
}

// HealthCheck reflects configuration only; the sender port has no probe.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, string) {
	if !a.IsEnabled() {
		return false, "email sender not configured"
	}
	return true, ""
}

// FetchInquiries returns nothing: email inquiries are created by the
// inbound ingest, not pulled.
func (a *Adapter) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	return nil, nil
}

// FetchMessages is unsupported; the conversation lives in the store.
func (a *Adapter) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

// SendReply mails the reply. The external id of an email inquiry is the
// customer's address.
func (a *Adapter) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	if !a.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	messageID, err := a.sender.Send(ctx, externalID, "Re: your inquiry", content)
	if err != nil {
		a.logger.Error("Email reply failed", map[string]interface{}{
			"error": err.Error(),
		})
		return &core.ReplyResult{
			Success:        false,
			DeliveryStatus: core.DeliveryFailed,
			Error:          err.Error(),
		}, nil
	}
	return &core.ReplyResult{
		Success:           true,
		DeliveryStatus:    core.DeliverySent,
		ExternalMessageID: messageID,
	}, nil
}
