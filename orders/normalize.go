package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/voyasim/simflow/core"
)

// ExternalOrder is a raw order as fetched from a sales channel, before
// product mapping and field selection.
type ExternalOrder struct {
	Channel           string         `json:"channel"`
	ExternalOrderID   string         `json:"external_order_id"`
	ExternalProductID string         `json:"external_product_id"`
	ProductName       string         `json:"product_name,omitempty"`
	OrdererName       string         `json:"orderer_name,omitempty"`
	OrdererEmail      string         `json:"orderer_email"`
	SafeNumber        string         `json:"safe_number,omitempty"`
	Tel               string         `json:"tel,omitempty"`
	Quantity          int            `json:"quantity"`
	Amount            float64        `json:"amount"`
	Currency          string         `json:"currency,omitempty"`
	Status            string         `json:"status"`
	PaidAt            time.Time      `json:"paid_at,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Channel-status projection targets.
const (
	ChannelStatusPending    = "pending"
	ChannelStatusProcessing = "processing"
	ChannelStatusCompleted  = "completed"
	ChannelStatusFailed     = "failed"
	ChannelStatusRefunded   = "refunded"
)

// statusProjection is the fixed channel-status table. Unknown statuses
// project to pending.
var statusProjection = map[string]string{
	"PAYED":                 ChannelStatusProcessing,
	"PAID":                  ChannelStatusProcessing,
	"PAYMENT_COMPLETED":     ChannelStatusProcessing,
	"DELIVERING":            ChannelStatusProcessing,
	"DISPATCHED":            ChannelStatusProcessing,
	"DELIVERED":             ChannelStatusCompleted,
	"PURCHASE_DECIDED":      ChannelStatusCompleted,
	"COMPLETED":             ChannelStatusCompleted,
	"CANCELED":              ChannelStatusFailed,
	"CANCELLED":             ChannelStatusFailed,
	"CANCELED_BY_NOPAYMENT": ChannelStatusFailed,
	"PAYMENT_FAILED":        ChannelStatusFailed,
	"RETURNED":              ChannelStatusRefunded,
	"REFUNDED":              ChannelStatusRefunded,
}

var paidEquivalents = map[string]bool{
	"PAYED":             true,
	"PAID":              true,
	"PAYMENT_COMPLETED": true,
	"DELIVERING":        true,
	"DISPATCHED":        true,
	"DELIVERED":         true,
	"PURCHASE_DECIDED":  true,
	"COMPLETED":         true,
}

var cancelEquivalents = map[string]bool{
	"CANCELED":              true,
	"CANCELLED":             true,
	"CANCELED_BY_NOPAYMENT": true,
	"CANCEL_REQUESTED":      true,
	"RETURNED":              true,
	"REFUNDED":              true,
}

// ProjectStatus maps a raw channel status onto the internal channel-status
// enum.
func ProjectStatus(raw string) string {
	if s, ok := statusProjection[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return ChannelStatusPending
}

// IsPaymentComplete reports whether the raw channel status means the
// customer has paid.
func IsPaymentComplete(raw string) bool {
	return paidEquivalents[strings.ToUpper(strings.TrimSpace(raw))]
}

// IsCanceled reports whether the raw channel status is a cancellation or
// refund.
func IsCanceled(raw string) bool {
	return cancelEquivalents[strings.ToUpper(strings.TrimSpace(raw))]
}

// IsEligibleForFulfillment combines the predicates: paid, not canceled,
// and not already claimed by another worker.
func IsEligibleForFulfillment(ext *ExternalOrder, hasActiveClaim bool) bool {
	return IsPaymentComplete(ext.Status) && !IsCanceled(ext.Status) && !hasActiveClaim
}

// BatchError pairs one failed item with its error so a batch keeps going.
type BatchError struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error"`
}

// Normalizer converts channel orders into internal orders.
type Normalizer struct {
	mapper   core.ProductMapper
	validate *validator.Validate
	logger   core.Logger
}

// NewNormalizer builds a normalizer over the given product mapper.
func NewNormalizer(mapper core.ProductMapper, logger core.Logger) *Normalizer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Normalizer{
		mapper:   mapper,
		validate: validator.New(),
		logger:   logger,
	}
}

// Normalize converts one external order. The order number is the channel's
// external id; the correlation id is freshly minted here and stays with
// the order for its whole life.
func (n *Normalizer) Normalize(ctx context.Context, ext *ExternalOrder) (*core.Order, error) {
	if ext.ExternalOrderID == "" {
		return nil, &core.PlatformError{
			Op:      "orders.normalize",
			Kind:    core.KindValidation,
			Message: "external order id is required",
		}
	}
	if ext.OrdererEmail == "" {
		return nil, &core.PlatformError{
			Op:      "orders.normalize",
			Kind:    core.KindValidation,
			Message: fmt.Sprintf("order %s has no orderer email", ext.ExternalOrderID),
		}
	}

	mapping, err := n.mapper.Map(ctx, ext.ExternalProductID)
	if err != nil {
		return nil, fmt.Errorf("mapping product %q for order %s: %w", ext.ExternalProductID, ext.ExternalOrderID, err)
	}

	phone := ext.SafeNumber
	if phone == "" {
		phone = ext.Tel
	}
	quantity := ext.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	currency := ext.Currency
	if currency == "" {
		currency = "KRW"
	}

	metadata := map[string]any{
		"external_order_id":   ext.ExternalOrderID,
		"external_product_id": ext.ExternalProductID,
		"channel_status":      ProjectStatus(ext.Status),
		"channel_status_raw":  ext.Status,
	}
	if ext.ProductName != "" {
		metadata["product_name"] = ext.ProductName
	}
	if !ext.PaidAt.IsZero() {
		metadata["paid_at"] = ext.PaidAt.UTC().Format(time.RFC3339)
	}
	for k, v := range ext.Metadata {
		metadata[k] = v
	}

	return &core.Order{
		OrderNumber:   ext.ExternalOrderID,
		CorrelationID: uuid.NewString(),
		CustomerEmail: ext.OrdererEmail,
		CustomerName:  ext.OrdererName,
		CustomerPhone: phone,
		ProductID:     mapping.ProductID,
		ProviderSKU:   mapping.ProviderSKU,
		Quantity:      quantity,
		Amount:        ext.Amount,
		Currency:      currency,
		Status:        core.StatusPaymentReceived,
		SalesChannel:  ext.Channel,
		Metadata:      metadata,
	}, nil
}

// NormalizeBatch converts many external orders, collecting per-item errors
// instead of aborting.
func (n *Normalizer) NormalizeBatch(ctx context.Context, exts []*ExternalOrder) ([]*core.Order, []BatchError) {
	normalized := make([]*core.Order, 0, len(exts))
	var errs []BatchError
	for _, ext := range exts {
		order, err := n.Normalize(ctx, ext)
		if err != nil {
			errs = append(errs, BatchError{ExternalID: ext.ExternalOrderID, Error: err.Error()})
			continue
		}
		normalized = append(normalized, order)
	}
	return normalized, errs
}

// fulfillmentInput is the validator view of an order that is about to be
// fulfilled.
type fulfillmentInput struct {
	OrderID       string `validate:"required"`
	CorrelationID string `validate:"required,uuid4"`
	CustomerEmail string `validate:"required,email"`
	ProductID     string `validate:"required"`
	ProviderSKU   string `validate:"required"`
	Quantity      int    `validate:"min=1"`
}

// ValidateForFulfillment checks that an order carries everything the
// provider cascade needs.
func (n *Normalizer) ValidateForFulfillment(order *core.Order) error {
	input := fulfillmentInput{
		OrderID:       order.ID,
		CorrelationID: order.CorrelationID,
		CustomerEmail: order.CustomerEmail,
		ProductID:     order.ProductID,
		ProviderSKU:   order.ProviderSKU,
		Quantity:      order.Quantity,
	}
	if err := n.validate.Struct(input); err != nil {
		return &core.PlatformError{
			Op:            "orders.validate",
			Kind:          core.KindValidation,
			CorrelationID: order.CorrelationID,
			Message:       "order not ready for fulfillment",
			Err:           err,
		}
	}
	return nil
}
