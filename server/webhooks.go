package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/fulfillment"
	"github.com/voyasim/simflow/orders"
)

const (
	// webhookDedupTTL keeps processed event ids long enough to absorb
	// provider redelivery storms.
	webhookDedupTTL = 24 * time.Hour

	// smartstoreSignatureHeader carries the base64 HMAC-SHA256 of the raw
	// request body.
	smartstoreSignatureHeader = "X-Webhook-Signature"

	maxWebhookBody = 1 << 20
)

// handleStripeWebhook ingests checkout.session.completed events: verify
// signature, dedup by event id, normalize into an order, fulfill inside
// the deadline budget.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	secret := s.cfg.Stripe.WebhookSecret
	if secret == "" {
		writeError(w, http.StatusBadRequest, "stripe webhook is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), secret)
	if err != nil {
		s.logger.Warn("Stripe signature verification failed", map[string]interface{}{
			"error": err.Error(),
		})
		s.opts.Metrics.WebhookEvents.WithLabelValues("stripe", "invalid_signature").Inc()
		writeError(w, http.StatusUnauthorized, core.ErrWebhookSignature.Error())
		return
	}

	if event.Type != "checkout.session.completed" {
		s.opts.Metrics.WebhookEvents.WithLabelValues("stripe", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	fresh, err := s.opts.Cache.SetNX(r.Context(), "webhook:stripe:"+event.ID, "1", webhookDedupTTL)
	if err != nil {
		s.logger.Warn("Webhook dedup check failed", map[string]interface{}{
			"event_id": event.ID,
			"error":    err.Error(),
		})
	} else if !fresh {
		s.opts.Metrics.WebhookEvents.WithLabelValues("stripe", "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		writeError(w, http.StatusBadRequest, "malformed checkout session")
		return
	}

	ext := &orders.ExternalOrder{
		Channel:           "stripe",
		ExternalOrderID:   session.ID,
		ExternalProductID: session.Metadata["product_id"],
		OrdererEmail:      sessionEmail(&session),
		OrdererName:       sessionName(&session),
		Quantity:          sessionQuantity(&session),
		Amount:            float64(session.AmountTotal) / 100,
		Currency:          strings.ToUpper(string(session.Currency)),
		Status:            "PAID",
		PaidAt:            time.Now().UTC(),
		Metadata:          map[string]any{"payment_ref": session.ID},
	}

	s.opts.Metrics.WebhookEvents.WithLabelValues("stripe", "accepted").Inc()
	s.ingestOrder(w, r, ext)
}

// handleSmartStoreWebhook ingests SmartStore pay notifications. Signature
// is HMAC-SHA256 of the raw body with the shared webhook secret.
func (s *Server) handleSmartStoreWebhook(w http.ResponseWriter, r *http.Request) {
	secret := s.cfg.Channels.Naver.WebhookSecret
	if secret == "" {
		writeError(w, http.StatusBadRequest, "smartstore webhook is not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}

	if !verifyHMAC(payload, r.Header.Get(smartstoreSignatureHeader), secret) {
		s.opts.Metrics.WebhookEvents.WithLabelValues("smartstore", "invalid_signature").Inc()
		writeError(w, http.StatusUnauthorized, core.ErrWebhookSignature.Error())
		return
	}

	var ext orders.ExternalOrder
	if err := json.Unmarshal(payload, &ext); err != nil {
		writeError(w, http.StatusBadRequest, "malformed order payload")
		return
	}
	ext.Channel = "smartstore"

	if !orders.IsPaymentComplete(ext.Status) || orders.IsCanceled(ext.Status) {
		s.opts.Metrics.WebhookEvents.WithLabelValues("smartstore", "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}

	fresh, err := s.opts.Cache.SetNX(r.Context(), "webhook:smartstore:"+ext.ExternalOrderID, "1", webhookDedupTTL)
	if err != nil {
		s.logger.Warn("Webhook dedup check failed", map[string]interface{}{
			"external_order_id": ext.ExternalOrderID,
			"error":             err.Error(),
		})
	} else if !fresh {
		s.opts.Metrics.WebhookEvents.WithLabelValues("smartstore", "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "duplicate": true})
		return
	}

	s.opts.Metrics.WebhookEvents.WithLabelValues("smartstore", "accepted").Inc()
	s.ingestOrder(w, r, &ext)
}

// ingestOrder is the shared normalize -> create -> fulfill tail of both
// payment webhooks. The response is always a 200 acknowledgement once the
// payload is accepted; fulfillment problems are recovered out-of-band.
func (s *Server) ingestOrder(w http.ResponseWriter, r *http.Request, ext *orders.ExternalOrder) {
	if s.opts.Normalizer == nil {
		writeError(w, http.StatusBadRequest, "order ingest is not configured")
		return
	}

	order, err := s.opts.Normalizer.Normalize(r.Context(), ext)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	order.PaymentRef = ext.ExternalOrderID

	created, err := s.opts.Orders.Create(r.Context(), order)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	budget := s.cfg.Fulfillment.DeadlineBudget
	res, sentinel := fulfillment.FulfillWithTimeout(r.Context(), s.opts.Fulfillment, created, s.opts.Providers(), budget)

	resp := map[string]any{"received": true, "order_id": created.ID}
	if sentinel != nil {
		resp["timeout"] = true
	} else if res != nil {
		resp["final_state"] = string(res.FinalState)
	}
	writeJSON(w, http.StatusOK, resp)
}

func verifyHMAC(payload []byte, presented, secret string) bool {
	if presented == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(presented), []byte(expected))
}

func sessionEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

func sessionName(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Name
	}
	return ""
}

func sessionQuantity(session *stripe.CheckoutSession) int {
	if raw, ok := session.Metadata["quantity"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 1
}
