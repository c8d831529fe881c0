// Package esimcard implements the eSIM Card supplier adapter. The API uses
// a login-for-token exchange and reports order completion through a status
// field; SIM activation data arrives as separate SM-DP+ parts.
package esimcard

import (
	"context"
	"net/http"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "esimcard"

// Client is the eSIM Card adapter.
type Client struct {
	providers.PurchaseOnly

	base        *providers.BaseClient
	cfg         core.ProviderConfig
	creds       core.ProviderCredentials
	tokens      *core.TokenCache
	displayName string
}

// New builds the adapter.
func New(cfg core.ProviderConfig, creds core.ProviderCredentials, tokens *core.TokenCache, logger core.Logger) *Client {
	c := &Client{
		base:        providers.NewBaseClient(cfg.Timeout, logger),
		cfg:         cfg,
		creds:       creds,
		tokens:      tokens,
		displayName: cfg.DisplayName,
	}
	if c.displayName == "" {
		c.displayName = "eSIM Card"
	}
	return c
}

func (c *Client) Slug() string        { return slug }
func (c *Client) DisplayName() string { return c.displayName }

func (c *Client) IsEnabled() bool {
	return c.creds.APIKey != "" && c.creds.APISecret != "" && c.creds.BaseURL != ""
}

func (c *Client) tokenKey() string {
	return slug + ":" + c.creds.APIKey
}

type loginResponse struct {
	Data struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int64  `json:"expires_in"`
	} `json:"data"`
	Message string `json:"message"`
}

func (c *Client) fetchToken(ctx context.Context) (core.Token, error) {
	resp, err := c.base.DoJSON(ctx, http.MethodPost, c.creds.BaseURL+"/api/v1/auth/login", "", nil, map[string]string{
		"api_key":    c.creds.APIKey,
		"api_secret": c.creds.APISecret,
	})
	if err != nil {
		return core.Token{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind, _ := core.ClassifyHTTP(resp.StatusCode)
		return core.Token{}, &core.PlatformError{
			Op:       "esimcard.login",
			Kind:     kind,
			Provider: slug,
			Message:  "login rejected",
		}
	}
	var parsed loginResponse
	if err := resp.Decode(&parsed); err != nil {
		return core.Token{}, err
	}
	expiresIn := parsed.Data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return core.NewToken(parsed.Data.AccessToken, parsed.Data.TokenType, expiresIn, time.Now()), nil
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	tok, err := c.tokens.Token(ctx, c.tokenKey(), c.fetchToken)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// HealthCheck exercises the login exchange.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.IsEnabled() {
		return false, "credentials not configured"
	}
	if _, err := c.authHeaders(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type orderRequest struct {
	PackageSKU string `json:"package_sku"`
	Email      string `json:"email"`
	Quantity   int    `json:"quantity"`
}

type orderResponse struct {
	Data struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
		Sims    []struct {
			ICCID          string `json:"iccid"`
			QRCodeURL      string `json:"qr_code_url"`
			ActivationCode string `json:"activation_code"`
			SMDPAddress    string `json:"smdp_address"`
			MatchingID     string `json:"matching_id"`
		} `json:"sims"`
	} `json:"data"`
	Message string `json:"message"`
}

// Purchase places one order. Success requires status COMPLETED with a
// non-empty SIM list; a PENDING status is reported as a retryable provider
// error so the retry loop polls by re-ordering idempotently upstream.
func (c *Client) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	if !c.IsEnabled() {
		return core.Failure(core.KindAuthentication, "esimcard credentials not configured", false)
	}
	if res := c.base.Acquire(slug); res != nil {
		return res
	}

	result, retryAuth := c.purchaseOnce(ctx, req, false)
	if retryAuth {
		result, _ = c.purchaseOnce(ctx, req, true)
	}
	return result
}

func (c *Client) purchaseOnce(ctx context.Context, req *core.PurchaseRequest, isAuthRetry bool) (*core.PurchaseResult, bool) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return providers.FailureFromResult(err), false
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	resp, err := c.base.DoJSON(ctx, http.MethodPost, c.creds.BaseURL+"/api/v1/orders", req.CorrelationID, headers, orderRequest{
		PackageSKU: req.ProviderSKU,
		Email:      req.CustomerEmail,
		Quantity:   quantity,
	})
	if err != nil {
		return providers.FailureFromResult(err), false
	}

	if resp.StatusCode == http.StatusUnauthorized && !isAuthRetry {
		c.tokens.Invalidate(c.tokenKey())
		return nil, true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providers.FailureFromStatus(slug, resp.StatusCode, resp.Body), false
	}

	var parsed orderResponse
	if err := resp.Decode(&parsed); err != nil {
		return providers.FailureFromResult(err), false
	}

	switch parsed.Data.Status {
	case "COMPLETED":
	case "PENDING", "PROCESSING":
		return core.Failure(core.KindProviderError, "esimcard order still "+parsed.Data.Status, true), false
	default:
		msg := parsed.Message
		if msg == "" {
			msg = "order status " + parsed.Data.Status
		}
		return core.Failure(core.KindProviderError, "esimcard: "+msg, false), false
	}

	if len(parsed.Data.Sims) == 0 {
		return core.Failure(core.KindProviderError, "esimcard order completed with empty SIM list", false), false
	}

	sim := parsed.Data.Sims[0]
	code := sim.ActivationCode
	if code == "" {
		code = providers.SynthesizeLPA(sim.SMDPAddress, sim.MatchingID)
	}
	esim := &core.ESIMData{
		ICCID:           sim.ICCID,
		QRCodeURL:       sim.QRCodeURL,
		ActivationCode:  code,
		ProviderOrderID: parsed.Data.OrderID,
	}
	if esim.ICCID == "" || esim.ActivationCode == "" {
		return core.Failure(core.KindInvalidResponse, "esimcard SIM missing iccid or activation data", false), false
	}
	if esim.QRCodeURL == "" {
		esim.QRCodeURL = providers.SynthesizeQRURL(esim.ActivationCode)
	}
	return core.OK(esim), false
}
