package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/fulfillment"
	"github.com/voyasim/simflow/store"
)

// handleFulfill runs the cascade for one order synchronously, bounded by
// the deadline budget. A timeout leaves the pipeline running and returns
// the sentinel; reconciliation recovers if the detached run dies.
func (s *Server) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := s.opts.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if order.Status != core.StatusPaymentReceived && order.Status != core.StatusFulfillmentStarted {
		writeError(w, http.StatusConflict, "order is not in a fulfillable state: "+string(order.Status))
		return
	}

	budget := s.cfg.Fulfillment.DeadlineBudget
	res, sentinel := fulfillment.FulfillWithTimeout(r.Context(), s.opts.Fulfillment, order, s.opts.Providers(), budget)
	if sentinel != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{
			"error":          sentinel.Error(),
			"order_id":       sentinel.OrderID,
			"correlation_id": sentinel.CorrelationID,
			"elapsed_ms":     sentinel.ElapsedMs,
		})
		return
	}
	if res.Err != nil {
		if errors.Is(res.Err, core.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, res.Err.Error())
			return
		}
		writeDomainError(w, res.Err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleAdminGetOrder returns the order together with its automation-log
// timeline.
func (s *Server) handleAdminGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := s.opts.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order":           order,
		"automation_logs": s.orderTimeline(r.Context(), order),
	})
}

func (s *Server) orderTimeline(ctx context.Context, order *core.Order) []map[string]any {
	timeline := []map[string]any{}
	if s.opts.Store == nil || order.CorrelationID == "" {
		return timeline
	}

	recs, err := s.opts.Store.Collection(store.CollectionAutomationLogs).List(ctx, store.Query{
		Filter: store.Eq("correlation_id", order.CorrelationID),
		Sort:   "created",
	})
	if err != nil {
		s.logger.Warn("Automation log lookup failed", map[string]interface{}{
			"order_id": order.ID,
			"error":    err.Error(),
		})
		return timeline
	}
	for _, rec := range recs {
		entry := map[string]any{"id": rec.ID, "created": rec.Created}
		for k, v := range rec.Fields {
			entry[k] = v
		}
		timeline = append(timeline, entry)
	}
	return timeline
}

type manualFulfillmentBody struct {
	Action         string `json:"action"`
	ICCID          string `json:"iccid"`
	ActivationCode string `json:"activation_code"`
	QRCodeURL      string `json:"qr_code_url,omitempty"`
	ProviderUsed   string `json:"provider_used"`
}

// handleAdminPatchOrder completes a manual fulfillment: an operator
// supplies the artifact bought outside the cascade and the order moves to
// delivered through the normal transition rules.
func (s *Server) handleAdminPatchOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body manualFulfillmentBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.Action != "manual_fulfillment" {
		writeError(w, http.StatusBadRequest, "unsupported action: "+body.Action)
		return
	}
	if body.ICCID == "" || body.ActivationCode == "" || body.ProviderUsed == "" {
		writeError(w, http.StatusBadRequest, "iccid, activation_code and provider_used are required")
		return
	}

	if _, err := s.opts.Orders.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	metadata := map[string]any{
		"iccid":             body.ICCID,
		"activation_code":   body.ActivationCode,
		"provider_used":     body.ProviderUsed,
		"manual_completion": true,
	}
	if body.QRCodeURL != "" {
		metadata["qr_code_url"] = body.QRCodeURL
	}

	if _, err := s.machine.Transition(r.Context(), id, core.StatusDelivered, metadata); err != nil {
		if errors.Is(err, core.ErrInvalidTransition) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}

	updated, err := s.opts.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleResendEmail re-sends the delivery email for an order that already
// carries an eSIM artifact.
func (s *Server) handleResendEmail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := s.opts.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if order.ICCID == "" || order.ActivationCode == "" {
		writeError(w, http.StatusBadRequest, "order has no eSIM artifact to send")
		return
	}
	if s.opts.Emailer == nil {
		writeError(w, http.StatusBadRequest, "email delivery is not configured")
		return
	}

	esim := &core.ESIMData{
		ICCID:          order.ICCID,
		ActivationCode: order.ActivationCode,
		QRCodeURL:      order.QRCodeURL,
	}
	messageID, err := s.opts.Emailer.SendESIMDelivery(r.Context(), order, esim)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageId": messageID})
}

// handleReconcile runs one sweep on demand.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reconciler == nil {
		writeError(w, http.StatusBadRequest, "reconciliation is not configured")
		return
	}
	report := s.opts.Reconciler.Sweep(r.Context())
	writeJSON(w, http.StatusOK, report)
}
