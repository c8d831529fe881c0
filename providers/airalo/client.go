// Package airalo implements the Airalo Partner API adapter. Airalo issues
// OAuth2 client-credentials tokens; orders return one or more SIMs carrying
// a full LPA activation string.
package airalo

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "airalo"

// Client is the Airalo adapter.
type Client struct {
	providers.PurchaseOnly

	base        *providers.BaseClient
	cfg         core.ProviderConfig
	creds       core.ProviderCredentials
	tokens      *core.TokenCache
	oauth       *clientcredentials.Config
	displayName string
}

// New builds the adapter. Missing credentials produce a disabled adapter,
// never an error.
func New(cfg core.ProviderConfig, creds core.ProviderCredentials, tokens *core.TokenCache, logger core.Logger) *Client {
	c := &Client{
		base:        providers.NewBaseClient(cfg.Timeout, logger),
		cfg:         cfg,
		creds:       creds,
		tokens:      tokens,
		displayName: cfg.DisplayName,
	}
	if c.displayName == "" {
		c.displayName = "Airalo Partner"
	}
	if c.enabled() {
		c.oauth = &clientcredentials.Config{
			ClientID:     creds.APIKey,
			ClientSecret: creds.APISecret,
			TokenURL:     creds.BaseURL + "/v2/token",
		}
	}
	return c
}

func (c *Client) Slug() string        { return slug }
func (c *Client) DisplayName() string { return c.displayName }

// IsEnabled reports whether client id, secret, and endpoint are configured.
func (c *Client) IsEnabled() bool { return c.enabled() }

func (c *Client) enabled() bool {
	return c.creds.APIKey != "" && c.creds.APISecret != "" && c.creds.BaseURL != ""
}

func (c *Client) tokenKey() string {
	return slug + ":" + c.creds.APIKey
}

func (c *Client) authHeaders(ctx context.Context) (map[string]string, error) {
	tok, err := c.tokens.Token(ctx, c.tokenKey(), func(ctx context.Context) (core.Token, error) {
		t, err := c.oauth.Token(ctx)
		if err != nil {
			return core.Token{}, err
		}
		return core.Token{AccessToken: t.AccessToken, TokenType: t.TokenType, Expiry: t.Expiry}, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// HealthCheck verifies credentials resolve to a token.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.enabled() {
		return false, "credentials not configured"
	}
	if _, err := c.authHeaders(ctx); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type orderRequest struct {
	PackageID   string `json:"package_id"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description,omitempty"`
}

type orderResponse struct {
	Data struct {
		ID   int64 `json:"id"`
		Sims []struct {
			ICCID     string `json:"iccid"`
			QRCodeURL string `json:"qrcode_url"`
			LPA       string `json:"lpa"`
		} `json:"sims"`
	} `json:"data"`
	Meta struct {
		Message string `json:"message"`
	} `json:"meta"`
}

// Purchase places one Airalo order. A 401 invalidates the cached token and
// retries the call once with a fresh one before surfacing.
func (c *Client) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	if !c.enabled() {
		return core.Failure(core.KindAuthentication, "airalo credentials not configured", false)
	}
	if res := c.base.Acquire(slug); res != nil {
		return res
	}

	result, retriedAuth := c.purchaseOnce(ctx, req, false)
	if retriedAuth {
		result, _ = c.purchaseOnce(ctx, req, true)
	}
	return result
}

// purchaseOnce performs one order call. The second return value asks the
// caller to retry after a token invalidation.
func (c *Client) purchaseOnce(ctx context.Context, req *core.PurchaseRequest, isAuthRetry bool) (*core.PurchaseResult, bool) {
	headers, err := c.authHeaders(ctx)
	if err != nil {
		return providers.FailureFromResult(err), false
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	body := orderRequest{
		PackageID:   req.ProviderSKU,
		Quantity:    quantity,
		Description: fmt.Sprintf("order %s", req.OrderID),
	}

	resp, err := c.base.DoJSON(ctx, http.MethodPost, c.creds.BaseURL+"/v2/orders", req.CorrelationID, headers, body)
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
	if len(parsed.Data.Sims) == 0 {
		msg := parsed.Meta.Message
		if msg == "" {
			msg = "order accepted but no SIMs returned"
		}
		return core.Failure(core.KindProviderError, "airalo: "+msg, false), false
	}

	sim := parsed.Data.Sims[0]
	esim := &core.ESIMData{
		ICCID:           sim.ICCID,
		QRCodeURL:       sim.QRCodeURL,
		ActivationCode:  normalizeLPA(sim.LPA),
		ProviderOrderID: fmt.Sprintf("%d", parsed.Data.ID),
	}
	if esim.ICCID == "" || esim.ActivationCode == "" {
		return core.Failure(core.KindInvalidResponse, "airalo SIM missing iccid or activation data", false), false
	}
	if esim.QRCodeURL == "" {
		esim.QRCodeURL = providers.SynthesizeQRURL(esim.ActivationCode)
	}
	return core.OK(esim), false
}

// normalizeLPA ensures the activation code carries the LPA: scheme prefix.
func normalizeLPA(lpa string) string {
	if lpa == "" {
		return ""
	}
	if strings.HasPrefix(lpa, "LPA:") {
		return lpa
	}
	return "LPA:" + lpa
}
