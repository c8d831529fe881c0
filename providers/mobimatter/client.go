// Package mobimatter implements the MobiMatter merchant adapter. Auth is a
// static api-key plus merchantId header pair; orders are placed and then
// read back once for their activation details.
package mobimatter

import (
	"context"
	"net/http"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

const slug = "mobimatter"

// Client is the MobiMatter adapter.
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
		c.displayName = "MobiMatter"
	}
	return c
}

func (c *Client) Slug() string        { return slug }
func (c *Client) DisplayName() string { return c.displayName }

func (c *Client) IsEnabled() bool {
	return c.creds.APIKey != "" && c.creds.MerchantID != "" && c.creds.BaseURL != ""
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"api-key":    c.creds.APIKey,
		"merchantId": c.creds.MerchantID,
	}
}

// HealthCheck probes the merchant products listing.
func (c *Client) HealthCheck(ctx context.Context) (bool, string) {
	if !c.IsEnabled() {
		return false, "credentials not configured"
	}
	resp, err := c.base.DoJSON(ctx, http.MethodGet, c.creds.BaseURL+"/products", "", c.headers(), nil)
	if err != nil {
		return false, err.Error()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, "status endpoint returned " + http.StatusText(resp.StatusCode)
	}
	return true, ""
}

type createOrderRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Label     string `json:"label,omitempty"`
}

type createOrderResponse struct {
	Result struct {
		OrderID string `json:"orderId"`
		State   string `json:"state"`
	} `json:"result"`
	Message string `json:"message"`
}

type orderDetailsResponse struct {
	Result struct {
		OrderID    string `json:"orderId"`
		State      string `json:"state"`
		Activation struct {
			ICCID       string `json:"iccid"`
			SMDPAddress string `json:"smdpAddress"`
			MatchingID  string `json:"matchingId"`
			QRCodeURL   string `json:"qrCodeUrl"`
		} `json:"activation"`
	} `json:"result"`
	Message string `json:"message"`
}

// Purchase places the order and fetches its activation details. A QUEUED
// state is retryable so backoff gives provisioning time to finish.
func (c *Client) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	if !c.IsEnabled() {
		return core.Failure(core.KindAuthentication, "mobimatter credentials not configured", false)
	}
	if res := c.base.Acquire(slug); res != nil {
		return res
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	resp, err := c.base.DoJSON(ctx, http.MethodPost, c.creds.BaseURL+"/order", req.CorrelationID, c.headers(), createOrderRequest{
		ProductID: req.ProviderSKU,
		Quantity:  quantity,
		Label:     req.OrderID,
	})
	if err != nil {
		return providers.FailureFromResult(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providers.FailureFromStatus(slug, resp.StatusCode, resp.Body)
	}

	var created createOrderResponse
	if err := resp.Decode(&created); err != nil {
		return providers.FailureFromResult(err)
	}
	if created.Result.OrderID == "" {
		return core.Failure(core.KindInvalidResponse, "mobimatter order response missing orderId", false)
	}
	if created.Result.State == "QUEUED" {
		return core.Failure(core.KindProviderError, "mobimatter order queued, activation not ready", true)
	}

	return c.fetchActivation(ctx, req.CorrelationID, created.Result.OrderID)
}

func (c *Client) fetchActivation(ctx context.Context, correlationID, orderID string) *core.PurchaseResult {
	resp, err := c.base.DoJSON(ctx, http.MethodGet, c.creds.BaseURL+"/order/"+orderID, correlationID, c.headers(), nil)
	if err != nil {
		return providers.FailureFromResult(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return providers.FailureFromStatus(slug, resp.StatusCode, resp.Body)
	}

	var details orderDetailsResponse
	if err := resp.Decode(&details); err != nil {
		return providers.FailureFromResult(err)
	}
	if details.Result.State == "QUEUED" {
		return core.Failure(core.KindProviderError, "mobimatter activation still queued", true)
	}

	act := details.Result.Activation
	code := providers.SynthesizeLPA(act.SMDPAddress, act.MatchingID)
	esim := &core.ESIMData{
		ICCID:           act.ICCID,
		QRCodeURL:       act.QRCodeURL,
		ActivationCode:  code,
		ProviderOrderID: orderID,
	}
	if esim.ICCID == "" || esim.ActivationCode == "" {
		return core.Failure(core.KindInvalidResponse, "mobimatter activation missing iccid or SM-DP+ data", false)
	}
	if esim.QRCodeURL == "" {
		esim.QRCodeURL = providers.SynthesizeQRURL(esim.ActivationCode)
	}
	return core.OK(esim)
}
