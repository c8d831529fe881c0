package mobimatter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := core.ProviderConfig{Slug: "mobimatter", Priority: 80, Timeout: 5 * time.Second, Active: true}
	creds := core.ProviderCredentials{APIKey: "mk", MerchantID: "merch-1", BaseURL: srv.URL}
	return New(cfg, creds, nil)
}

func req() *core.PurchaseRequest {
	return &core.PurchaseRequest{OrderID: "rec_5", CorrelationID: "corr-5", ProviderSKU: "MM-EU-10", Quantity: 1}
}

func TestPurchaseFetchesActivationAfterCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mk", r.Header.Get("api-key"))
		assert.Equal(t, "merch-1", r.Header.Get("merchantId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"orderId": "MM-42", "state": "COMPLETED"},
		})
	})
	mux.HandleFunc("/order/MM-42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"orderId": "MM-42",
				"state":   "COMPLETED",
				"activation": map[string]any{
					"iccid":       "8942310000001",
					"smdpAddress": "smdp.mobimatter.com",
					"matchingId":  "MID-9",
					"qrCodeUrl":   "https://mm/qr.png",
				},
			},
		})
	})

	res := newTestClient(t, mux).Purchase(context.Background(), req())

	require.Equal(t, core.PurchaseOK, res.Status, "error: %s", res.ErrorMessage)
	assert.Equal(t, "LPA:1$smdp.mobimatter.com$MID-9", res.ESIM.ActivationCode)
	assert.Equal(t, "https://mm/qr.png", res.ESIM.QRCodeURL)
	assert.Equal(t, "MM-42", res.ESIM.ProviderOrderID)
}

func TestQueuedStateIsRetryable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"orderId": "MM-1", "state": "QUEUED"},
		})
	})

	res := newTestClient(t, mux).Purchase(context.Background(), req())

	require.Equal(t, core.PurchaseFailed, res.Status)
	assert.Equal(t, core.KindProviderError, res.ErrorType)
	assert.True(t, res.Retryable)
}

func TestMissingOrderIDIsInvalidResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/order", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{}})
	})

	res := newTestClient(t, mux).Purchase(context.Background(), req())

	require.Equal(t, core.PurchaseFailed, res.Status)
	assert.Equal(t, core.KindInvalidResponse, res.ErrorType)
	assert.False(t, res.Retryable)
}
