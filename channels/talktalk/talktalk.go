// Package talktalk integrates Naver TalkTalk. TalkTalk pushes inbound
// messages by webhook, so the adapter cannot list inquiries; replies go
// out through the partner send-event API behind client-credentials auth.
package talktalk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "talktalk"

// Adapter is the TalkTalk adapter.
type Adapter struct {
	core.InquiryOnly

	base   *providers.BaseClient
	cfg    core.TalkTalkConfig
	tokens *core.TokenCache
	oauth  *clientcredentials.Config
	logger core.Logger
}

// New builds the adapter.
func New(cfg core.TalkTalkConfig, tokens *core.TokenCache, logger core.Logger, limiter *core.RateLimiter) *Adapter {
	base := providers.NewBaseClient(15*time.Second, logger)
	base.Limiter = limiter
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	a := &Adapter{base: base, cfg: cfg, tokens: tokens, logger: logger}
	if a.IsEnabled() {
		a.oauth = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.BaseURL + "/oauth2/token",
		}
	}
	return a
}

func (a *Adapter) Slug() string        { return slug }
func (a *Adapter) DisplayName() string { return "Naver TalkTalk" }

func (a *Adapter) IsEnabled() bool {
	return a.cfg.ClientID != "" && a.cfg.ClientSecret != "" && a.cfg.ChannelID != "" && a.cfg.BaseURL != ""
}

func (a *Adapter) tokenKey() string {
	return slug + ":" + a.cfg.ClientID
}

func (a *Adapter) authHeaders(ctx context.Context) (map[string]string, error) {
	tok, err := a.tokens.Token(ctx, a.tokenKey(), func(ctx context.Context) (core.Token, error) {
		t, err := a.oauth.Token(ctx)
		if err != nil {
			return core.Token{}, err
		}
		return core.Token{AccessToken: t.AccessToken, TokenType: t.TokenType, Expiry: t.Expiry}, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": tok.AccessToken}, nil
}

// HealthCheck verifies the client-credentials exchange.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, string) {
	if !a.IsEnabled() {
		return false, "credentials not configured"
	}
	if _, err := a.authHeaders(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// FetchInquiries returns nothing: TalkTalk is push-only, inquiries arrive
// through the webhook ingest.
func (a *Adapter) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	return nil, nil
}

// FetchMessages is unsupported; the conversation lives in the store.
func (a *Adapter) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

type sendEvent struct {
	Event       string      `json:"event"`
	User        string      `json:"user"`
	TextContent textContent `json:"textContent"`
}

type textContent struct {
	Text string `json:"text"`
}

// SendReply pushes a send event to the partner gateway. The external id of
// a TalkTalk inquiry is the TalkTalk user key.
func (a *Adapter) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	if !a.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	if res := a.base.Acquire(slug); res != nil {
		return nil, &core.PlatformError{Op: "talktalk.reply", Kind: core.KindRateLimit, Retryable: true, Message: res.ErrorMessage}
	}

	for attempt := 0; ; attempt++ {
		headers, err := a.authHeaders(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := a.base.DoJSON(ctx, http.MethodPost, a.cfg.BaseURL+"/chatbot/v1/events", "", headers, sendEvent{
			Event:       "send",
			User:        externalID,
			TextContent: textContent{Text: content},
		})
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			a.tokens.Invalidate(a.tokenKey())
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &core.ReplyResult{
				Success:        false,
				DeliveryStatus: core.DeliveryFailed,
				Error:          fmt.Sprintf("send event returned %d", resp.StatusCode),
			}, nil
		}
		return &core.ReplyResult{Success: true, DeliveryStatus: core.DeliverySent}, nil
	}
}
