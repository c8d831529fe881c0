// Package kakao integrates the Kakao consultation channel. Auth is a
// static REST key; open consultations are pulled and replies pushed to the
// consultation thread.
package kakao

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "kakao"

// Adapter is the Kakao consultation adapter.
type Adapter struct {
	core.InquiryOnly

	base   *providers.BaseClient
	cfg    core.KakaoConfig
	logger core.Logger
}

// New builds the adapter.
func New(cfg core.KakaoConfig, logger core.Logger, limiter *core.RateLimiter) *Adapter {
	base := providers.NewBaseClient(15*time.Second, logger)
	base.Limiter = limiter
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Adapter{base: base, cfg: cfg, logger: logger}
}

func (a *Adapter) Slug() string        { return slug }
func (a *Adapter) DisplayName() string { return "KakaoTalk Channel" }

func (a *Adapter) IsEnabled() bool {
	return a.cfg.RESTKey != "" && a.cfg.ChannelID != "" && a.cfg.BaseURL != ""
}

func (a *Adapter) headers() map[string]string {
	return map[string]string{"Authorization": "KakaoAK " + a.cfg.RESTKey}
}

// HealthCheck probes the channel profile endpoint.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, string) {
	if !a.IsEnabled() {
		return false, "credentials not configured"
	}
	resp, err := a.base.DoJSON(ctx, http.MethodGet, a.cfg.BaseURL+"/v1/channels/"+url.PathEscape(a.cfg.ChannelID), "", a.headers(), nil)
	if err != nil {
		return false, err.Error()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("channel endpoint returned %d", resp.StatusCode)
	}
	return true, ""
}

type consultationPage struct {
	Consultations []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Content   string `json:"content"`
		UserName  string `json:"user_name"`
		UserID    string `json:"user_id"`
		Replied   bool   `json:"replied"`
		CreatedAt string `json:"created_at"`
	} `json:"consultations"`
}

// FetchInquiries lists open consultations for the channel.
func (a *Adapter) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	if !a.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	if res := a.base.Acquire(slug); res != nil {
		return nil, &core.PlatformError{Op: "kakao.fetch", Kind: core.KindRateLimit, Retryable: true, Message: res.ErrorMessage}
	}

	q := url.Values{"channel_id": {a.cfg.ChannelID}}
	if !opts.IncludeReplied {
		q.Set("status", "open")
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	resp, err := a.base.DoJSON(ctx, http.MethodGet, a.cfg.BaseURL+"/v1/consultations?"+q.Encode(), "", a.headers(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.statusError("kakao.fetch", resp.StatusCode)
	}

	var page consultationPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}
	out := make([]core.ExternalInquiry, 0, len(page.Consultations))
	for _, item := range page.Consultations {
		created, _ := time.Parse(time.RFC3339, item.CreatedAt)
		out = append(out, core.ExternalInquiry{
			Channel:      core.ChannelKakao,
			ExternalID:   item.ID,
			Subject:      item.Title,
			Content:      item.Content,
			CustomerName: item.UserName,
			CustomerID:   item.UserID,
			Replied:      item.Replied,
			CreatedAt:    created,
		})
	}
	return out, nil
}

type messagesResponse struct {
	Messages []struct {
		ID        string `json:"id"`
		Direction string `json:"direction"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	} `json:"messages"`
}

// FetchMessages returns the consultation thread, oldest first.
func (a *Adapter) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	if !a.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	resp, err := a.base.DoJSON(ctx, http.MethodGet, a.cfg.BaseURL+"/v1/consultations/"+url.PathEscape(externalID)+"/messages", "", a.headers(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.statusError("kakao.messages", resp.StatusCode)
	}
	var parsed messagesResponse
	if err := resp.Decode(&parsed); err != nil {
		return nil, err
	}
	out := make([]core.ExternalMessage, 0, len(parsed.Messages))
	for _, m := range parsed.Messages {
		created, _ := time.Parse(time.RFC3339, m.CreatedAt)
		direction := core.DirectionInbound
		if m.Direction == "outbound" {
			direction = core.DirectionOutbound
		}
		out = append(out, core.ExternalMessage{
			ExternalID: m.ID,
			Direction:  direction,
			Content:    m.Content,
			CreatedAt:  created,
		})
	}
	return out, nil
}

// SendReply pushes one reply into the consultation.
func (a *Adapter) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	if !a.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	resp, err := a.base.DoJSON(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/consultations/"+url.PathEscape(externalID)+"/messages", "", a.headers(), map[string]string{
		"content": content,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &core.ReplyResult{
			Success:        false,
			DeliveryStatus: core.DeliveryFailed,
			Error:          fmt.Sprintf("reply endpoint returned %d", resp.StatusCode),
		}, nil
	}
	var created struct {
		ID string `json:"id"`
	}
	_ = resp.Decode(&created)
	return &core.ReplyResult{
		Success:           true,
		DeliveryStatus:    core.DeliverySent,
		ExternalMessageID: created.ID,
	}, nil
}

func (a *Adapter) statusError(op string, status int) error {
	kind, retryable := core.ClassifyHTTP(status)
	return &core.PlatformError{
		Op:        op,
		Kind:      kind,
		Provider:  slug,
		Retryable: retryable,
		Message:   fmt.Sprintf("kakao API returned %d", status),
	}
}
