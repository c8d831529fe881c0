// Package redteago implements the RedteaGO adapter. Auth is a static
// bearer; the API reports errors through a body-level code even on HTTP
// 200, with its own table of transient codes.
package redteago

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "redteago"

// retryableCodes is RedteaGO's documented transient body-code set. Every
// other non-success code is terminal.
var retryableCodes = map[int]bool{
	500:   true,
	502:   true,
	503:   true,
	504:   true,
	10429: true,
}

// Client is the RedteaGO adapter.
type Client struct {
	providers.PurchaseOnly

	base        *providers.BaseClient
	cfg         core.ProviderConfig
	creds       core.ProviderCredentials
	displayName string
}

// New builds the adapter.
func New(cfg core.ProviderConfig, creds core.ProviderCredentials, logger core.Logger) *Client {
	c := &Client{
		base:        providers.NewBaseClient(cfg.Timeout, logger),
		cfg:         cfg,
		creds:       creds,
		displayName: cfg.DisplayName,
	}
	if c.displayName == "" {
		c.displayName = "RedteaGO"
	}
	return c
}

func (c *Client) Slug() string        { return slug }
func (c *Client) DisplayName() string { return c.displayName }

func (c *Client) IsEnabled() bool {
	return c.creds.APIKey != "" && c.creds.BaseURL != ""
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.creds.APIKey}
}

// HealthCheck probes the account endpoint.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.IsEnabled() {
		return false, "credentials not configured"
	}
	resp, err := c.base.DoJSON(ctx, http.MethodGet, c.creds.BaseURL+"/account/balance", "", c.headers(), nil)
	if err != nil {
		return false, err.Error()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Sprintf("status endpoint returned %d", resp.StatusCode)
	}
	return true, ""
}

type orderRequest struct {
	ItemCode string `json:"itemCode"`
	Quantity int    `json:"quantity"`
	TradeNo  string `json:"tradeNo,omitempty"`
}

type orderResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		OrderNo  string `json:"orderNo"`
		ESIMList []struct {
			ICCID     string `json:"iccid"`
			AC        string `json:"ac"`
			QRCodeURL string `json:"qrCodeUrl"`
		} `json:"esimList"`
	} `json:"data"`
}

// Purchase places one RedteaGO order. The body-level code decides the
// outcome: 200 is success, codes in the transient table are retryable,
// everything else is terminal.
func (c *Client) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	if !c.IsEnabled() {
		return core.Failure(core.KindAuthentication, "redteago credentials not configured", false)
	}
	if res := c.base.Acquire(slug); res != nil {
		return res
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	resp, err := c.base.DoJSON(ctx, http.MethodPost, c.creds.BaseURL+"/esim/order", req.CorrelationID, c.headers(), orderRequest{
		ItemCode: req.ProviderSKU,
		Quantity: quantity,
		TradeNo:  req.OrderID,
	})
	if err != nil {
		return providers.FailureFromResult(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providers.FailureFromStatus(slug, resp.StatusCode, resp.Body)
	}

	var parsed orderResponse
	if err := resp.Decode(&parsed); err != nil {
		return providers.FailureFromResult(err)
	}
	if parsed.Code != 200 {
		msg := fmt.Sprintf("redteago code %d: %s", parsed.Code, parsed.Message)
		if parsed.Code == 10429 {
			return core.Failure(core.KindRateLimit, msg, true)
		}
		return core.Failure(core.KindProviderError, msg, retryableCodes[parsed.Code])
	}
	if len(parsed.Data.ESIMList) == 0 {
		return core.Failure(core.KindProviderError, "redteago order returned empty eSIM list", false)
	}

	sim := parsed.Data.ESIMList[0]
	esim := &core.ESIMData{
		ICCID:           sim.ICCID,
		QRCodeURL:       sim.QRCodeURL,
		ActivationCode:  normalizeAC(sim.AC),
		ProviderOrderID: parsed.Data.OrderNo,
	}
	if esim.ICCID == "" || esim.ActivationCode == "" {
		return core.Failure(core.KindInvalidResponse, "redteago eSIM missing iccid or activation code", false)
	}
	if esim.QRCodeURL == "" {
		esim.QRCodeURL = providers.SynthesizeQRURL(esim.ActivationCode)
	}
	return core.OK(esim)
}

// normalizeAC accepts both "1$<smdp>$<matching>" and full LPA strings.
func normalizeAC(ac string) string {
	if ac == "" {
		return ""
	}
	if strings.HasPrefix(ac, "LPA:") {
		return ac
	}
	return "LPA:" + ac
}
