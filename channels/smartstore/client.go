// Package smartstore integrates the Naver SmartStore commerce API: the
// product Q&A board as an inquiry channel, plus the paid-order feed used
// when the payment webhook is not configured.
package smartstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/providers"
)

const slug = "smartstore"

// Client is the SmartStore adapter.
type Client struct {
	core.InquiryOnly

	base   *providers.BaseClient
	cfg    core.NaverConfig
	tokens *core.TokenCache
	logger core.Logger
	now    func() time.Time
}

// New builds the adapter. Missing credentials produce a disabled adapter.
func New(cfg core.NaverConfig, tokens *core.TokenCache, logger core.Logger, limiter *core.RateLimiter) *Client {
	base := providers.NewBaseClient(15*time.Second, logger)
	base.Limiter = limiter
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		base:   base,
		cfg:    cfg,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}
}

func (c *Client) Slug() string        { return slug }
func (c *Client) DisplayName() string { return "Naver SmartStore" }

func (c *Client) IsEnabled() bool {
	return c.cfg.AppID != "" && c.cfg.AppSecret != "" && c.cfg.BaseURL != ""
}

func (c *Client) tokenKey() string {
	return slug + ":" + c.cfg.AppID
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *Client) fetchToken(ctx context.Context) (core.Token, error) {
	ts := c.now().UnixMilli()
	sign, err := Sign(c.cfg.AppID, c.cfg.AppSecret, ts)
	if err != nil {
		return core.Token{}, err
	}

	form := url.Values{
		"client_id":          {c.cfg.AppID},
		"timestamp":          {strconv.FormatInt(ts, 10)},
		"client_secret_sign": {sign},
		"grant_type":         {"client_credentials"},
		"type":               {"SELF"},
	}
	resp, err := c.base.DoForm(ctx, http.MethodPost, c.cfg.BaseURL+"/external/v1/oauth2/token", form, nil)
	if err != nil {
		return core.Token{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.Token{}, &core.PlatformError{
			Op:       "smartstore.token",
			Kind:     core.KindAuthentication,
			Provider: slug,
			Message:  fmt.Sprintf("token endpoint returned %d", resp.StatusCode),
		}
	}
	var parsed tokenResponse
	if err := resp.Decode(&parsed); err != nil {
		return core.Token{}, err
	}
	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 10800
	}
	return core.NewToken(parsed.AccessToken, parsed.TokenType, expiresIn, c.now()), nil
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	tok, err := c.tokens.Token(ctx, c.tokenKey(), c.fetchToken)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// authDo issues one authenticated call, refreshing the token once on 401.
func (c *Client) authDo(ctx context.Context, method, rawURL string, payload any) (*providers.Response, error) {
	for attempt := 0; ; attempt++ {
		headers, err := c.authHeaders(ctx)
		if err != nil {
			return nil, err
		}
		resp, err := c.base.DoJSON(ctx, method, rawURL, "", headers, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(c.tokenKey())
			continue
		}
		return resp, nil
	}
}

// HealthCheck verifies the signed token exchange.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.IsEnabled() {
		return false, "credentials not configured"
	}
	if _, err := c.authHeaders(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type qnaPage struct {
	Contents []struct {
		QuestionID   int64  `json:"questionId"`
		Title        string `json:"title"`
		Question     string `json:"question"`
		Answered     bool   `json:"answered"`
		MaskedWriter string `json:"maskedWriterId"`
		CreateDate   string `json:"createDate"`
	} `json:"contents"`
	TotalElements int `json:"totalElements"`
}

// FetchInquiries lists product Q&A entries, unanswered only unless asked
// otherwise.
func (c *Client) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	if !c.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	if res := c.base.Acquire(slug); res != nil {
		return nil, &core.PlatformError{Op: "smartstore.fetch", Kind: core.KindRateLimit, Retryable: true, Message: res.ErrorMessage}
	}

	size := opts.Limit
	if size <= 0 {
		size = 50
	}
	q := url.Values{
		"page": {"1"},
		"size": {strconv.Itoa(size)},
	}
	if !opts.IncludeReplied {
		q.Set("answered", "false")
	}
	if !opts.Since.IsZero() {
		q.Set("fromDate", opts.Since.UTC().Format("2006-01-02"))
	}

	resp, err := c.authDo(ctx, http.MethodGet, c.cfg.BaseURL+"/external/v1/contents/qnas?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("smartstore.fetch", resp.StatusCode)
	}

	var page qnaPage
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}

	out := make([]core.ExternalInquiry, 0, len(page.Contents))
	for _, item := range page.Contents {
		created, _ := time.Parse(time.RFC3339, item.CreateDate)
		out = append(out, core.ExternalInquiry{
			Channel:      core.ChannelSmartStore,
			ExternalID:   strconv.FormatInt(item.QuestionID, 10),
			Subject:      item.Title,
			Content:      item.Question,
			CustomerName: item.MaskedWriter,
			Replied:      item.Answered,
			CreatedAt:    created,
		})
	}
	return out, nil
}

// FetchMessages is unsupported: a Q&A entry is a single question, mirrored
// as the inquiry's seed message on create.
func (c *Client) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

// SendReply posts the answer to a Q&A entry.
func (c *Client) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	if !c.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	resp, err := c.authDo(ctx, http.MethodPost, c.cfg.BaseURL+"/external/v1/contents/qnas/"+url.PathEscape(externalID)+"/answer", map[string]string{
		"answerContent": content,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &core.ReplyResult{
			Success:        false,
			DeliveryStatus: core.DeliveryFailed,
			Error:          fmt.Sprintf("answer endpoint returned %d", resp.StatusCode),
		}, nil
	}
	return &core.ReplyResult{Success: true, DeliveryStatus: core.DeliverySent, ExternalMessageID: externalID}, nil
}

type changedStatusesResponse struct {
	Data struct {
		LastChangeStatuses []struct {
			ProductOrderID string `json:"productOrderId"`
			OrderID        string `json:"orderId"`
		} `json:"lastChangeStatuses"`
	} `json:"data"`
}

type productOrderDetails struct {
	Data []struct {
		ProductOrder struct {
			ProductOrderID     string  `json:"productOrderId"`
			ProductID          string  `json:"productId"`
			ProductName        string  `json:"productName"`
			Quantity           int     `json:"quantity"`
			TotalPaymentAmount float64 `json:"totalPaymentAmount"`
			SafeNumber         string  `json:"safeNumber"`
			Status             string  `json:"productOrderStatus"`
		} `json:"productOrder"`
		Order struct {
			OrderID      string `json:"orderId"`
			OrdererName  string `json:"ordererName"`
			OrdererTel   string `json:"ordererTel"`
			OrdererEmail string `json:"ordererEmail"`
			PaymentDate  string `json:"paymentDate"`
		} `json:"order"`
	} `json:"data"`
}

// FetchPaidOrders lists product orders paid since the cutoff, shaped for
// the normalizer. The poll ticker uses this when the payment webhook is
// not configured.
func (c *Client) FetchPaidOrders(ctx context.Context, since time.Time) ([]*orders.ExternalOrder, error) {
	if !c.IsEnabled() {
		return nil, core.ErrNotConfigured
	}
	if res := c.base.Acquire(slug); res != nil {
		return nil, &core.PlatformError{Op: "smartstore.orders", Kind: core.KindRateLimit, Retryable: true, Message: res.ErrorMessage}
	}

	q := url.Values{
		"lastChangedFrom": {since.UTC().Format(time.RFC3339)},
		"lastChangedType": {"PAYED"},
	}
	resp, err := c.authDo(ctx, http.MethodGet, c.cfg.BaseURL+"/external/v1/pay-order/seller/product-orders/last-changed-statuses?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("smartstore.orders", resp.StatusCode)
	}
	var changed changedStatusesResponse
	if err := resp.Decode(&changed); err != nil {
		return nil, err
	}
	if len(changed.Data.LastChangeStatuses) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(changed.Data.LastChangeStatuses))
	for _, s := range changed.Data.LastChangeStatuses {
		ids = append(ids, s.ProductOrderID)
	}

	resp, err = c.authDo(ctx, http.MethodPost, c.cfg.BaseURL+"/external/v1/pay-order/seller/product-orders/query", map[string]any{
		"productOrderIds": ids,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("smartstore.orders", resp.StatusCode)
	}
	var details productOrderDetails
	if err := resp.Decode(&details); err != nil {
		return nil, err
	}

	out := make([]*orders.ExternalOrder, 0, len(details.Data))
	for _, d := range details.Data {
		paidAt, _ := time.Parse(time.RFC3339, d.Order.PaymentDate)
		status := d.ProductOrder.Status
		if status == "" {
			status = "PAYED"
		}
		out = append(out, &orders.ExternalOrder{
			Channel:           slug,
			ExternalOrderID:   d.ProductOrder.ProductOrderID,
			ExternalProductID: d.ProductOrder.ProductID,
			ProductName:       d.ProductOrder.ProductName,
			OrdererName:       d.Order.OrdererName,
			OrdererEmail:      d.Order.OrdererEmail,
			SafeNumber:        d.ProductOrder.SafeNumber,
			Tel:               d.Order.OrdererTel,
			Quantity:          d.ProductOrder.Quantity,
			Amount:            d.ProductOrder.TotalPaymentAmount,
			Currency:          "KRW",
			Status:            status,
			PaidAt:            paidAt,
			Metadata: map[string]any{
				"naver_order_id": d.Order.OrderID,
			},
		})
	}
	return out, nil
}

func statusError(op string, status int) error {
	kind, retryable := core.ClassifyHTTP(status)
	return &core.PlatformError{
		Op:        op,
		Kind:      kind,
		Provider:  slug,
		Retryable: retryable,
		Message:   fmt.Sprintf("commerce API returned %d", status),
	}
}
