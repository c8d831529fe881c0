package redteago

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.ProviderConfig{Slug: "redteago", Priority: 70, Timeout: 5 * time.Second, Active: true}
	return New(cfg, core.ProviderCredentials{APIKey: "static-key", BaseURL: srv.URL}, nil)
}

func req() *core.PurchaseRequest {
	return &core.PurchaseRequest{OrderID: "rec_9", CorrelationID: "corr-9", ProviderSKU: "RT-KR-30D", Quantity: 2}
}

func TestPurchaseSuccess(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/esim/order", r.URL.Path)
		assert.Equal(t, "Bearer static-key", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "RT-KR-30D", body["itemCode"])
		assert.Equal(t, "rec_9", body["tradeNo"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]any{
				"orderNo": "RT-555",
				"esimList": []map[string]any{{
					"iccid": "89860000123",
					"ac":    "1$smdp.redtea.io$TOKEN",
				}},
			},
		})
	})

	res := c.Purchase(context.Background(), req())

	require.Equal(t, core.PurchaseOK, res.Status, "error: %s", res.ErrorMessage)
	assert.Equal(t, "LPA:1$smdp.redtea.io$TOKEN", res.ESIM.ActivationCode)
	assert.Equal(t, "RT-555", res.ESIM.ProviderOrderID)
	assert.NotEmpty(t, res.ESIM.QRCodeURL)
}

func TestBodyCodeClassification(t *testing.T) {
	cases := []struct {
		code      int
		kind      core.ErrorKind
		retryable bool
	}{
		{503, core.KindProviderError, true},
		{10429, core.KindRateLimit, true},
		{40001, core.KindProviderError, false},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("code_%d", tc.code), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]any{"code": tc.code, "message": "boom"})
			})
			res := c.Purchase(context.Background(), req())
			require.Equal(t, core.PurchaseFailed, res.Status)
			assert.Equal(t, tc.kind, res.ErrorType)
			assert.Equal(t, tc.retryable, res.Retryable)
		})
	}
}

func TestEmptyESIMListIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200, "data": map[string]any{"orderNo": "RT-1"}})
	})
	res := c.Purchase(context.Background(), req())
	require.Equal(t, core.PurchaseFailed, res.Status)
	assert.False(t, res.Retryable)
}

func TestHealthCheckProbesBalance(t *testing.T) {
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 200})
	})
	ok, msg := c.HealthCheck(context.Background())
	assert.True(t, ok, msg)
	assert.Equal(t, "/account/balance", path)
}
