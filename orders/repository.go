package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// Repository persists orders in the document store.
type Repository struct {
	col store.Collection
}

// NewRepository builds a repository over the orders collection.
func NewRepository(s store.Store) *Repository {
	return &Repository{col: s.Collection(store.CollectionOrders)}
}

// Create inserts a new order and returns it with its record id.
func (r *Repository) Create(ctx context.Context, order *core.Order) (*core.Order, error) {
	rec, err := r.col.Create(ctx, toFields(order))
	if err != nil {
		return nil, fmt.Errorf("creating order %s: %w", order.OrderNumber, err)
	}
	return fromRecord(rec), nil
}

// Get fetches an order by record id.
func (r *Repository) Get(ctx context.Context, id string) (*core.Order, error) {
	rec, err := r.col.Get(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("order %s: %w", id, core.ErrOrderNotFound)
		}
		return nil, err
	}
	return fromRecord(rec), nil
}

// GetByNumber fetches an order by its human order number.
func (r *Repository) GetByNumber(ctx context.Context, orderNumber string) (*core.Order, error) {
	rec, err := r.col.First(ctx, store.Query{Filter: store.Eq("order_number", orderNumber)})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("order number %s: %w", orderNumber, core.ErrOrderNotFound)
		}
		return nil, err
	}
	return fromRecord(rec), nil
}

// Patch updates the given fields on an order.
func (r *Repository) Patch(ctx context.Context, id string, fields map[string]any) (*core.Order, error) {
	rec, err := r.col.Update(ctx, id, fields)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("order %s: %w", id, core.ErrOrderNotFound)
		}
		return nil, err
	}
	return fromRecord(rec), nil
}

// ByStatus lists orders in the given status, oldest first.
func (r *Repository) ByStatus(ctx context.Context, status core.OrderStatus, limit int) ([]*core.Order, error) {
	recs, err := r.col.List(ctx, store.Query{
		Filter: store.Eq("status", string(status)),
		Sort:   "created",
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

// StuckSince lists orders sitting in status with no update since the
// cutoff. The reconciler uses this to find fulfillments that timed out.
func (r *Repository) StuckSince(ctx context.Context, status core.OrderStatus, cutoff time.Time) ([]*core.Order, error) {
	recs, err := r.col.List(ctx, store.Query{
		Filter: store.And(
			store.Eq("status", string(status)),
			store.Lt("updated", store.FormatTime(cutoff)),
		),
		Sort: "created",
	})
	if err != nil {
		return nil, err
	}
	return fromRecords(recs), nil
}

// LoadStatus is the state machine's LoadFunc.
func (r *Repository) LoadStatus(ctx context.Context, orderID string) (core.OrderStatus, error) {
	order, err := r.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	return order.Status, nil
}

// PersistStatus is the state machine's PersistFunc. Top-level order fields
// present in metadata are written directly; the rest merge additively into
// the record's metadata bag.
func (r *Repository) PersistStatus(ctx context.Context, orderID string, status core.OrderStatus, metadata map[string]any) error {
	fields := map[string]any{"status": string(status)}

	var extra map[string]any
	for k, v := range metadata {
		switch k {
		case "qr_code_url", "iccid", "activation_code", "provider_used", "error_message", "payment_ref":
			fields[k] = v
		default:
			if extra == nil {
				extra = make(map[string]any)
			}
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		order, err := r.Get(ctx, orderID)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(order.Metadata)+len(extra))
		for k, v := range order.Metadata {
			merged[k] = v
		}
		for k, v := range extra {
			merged[k] = v
		}
		fields["metadata"] = merged
	}

	_, err := r.Patch(ctx, orderID, fields)
	return err
}

// Machine builds a state machine wired to this repository.
func (r *Repository) Machine(logger core.Logger) *StateMachine {
	return NewStateMachine(r.LoadStatus, r.PersistStatus, logger)
}

func toFields(o *core.Order) map[string]any {
	fields := map[string]any{
		"order_number":    o.OrderNumber,
		"correlation_id":  o.CorrelationID,
		"customer_email":  o.CustomerEmail,
		"customer_name":   o.CustomerName,
		"customer_phone":  o.CustomerPhone,
		"product_id":      o.ProductID,
		"provider_sku":    o.ProviderSKU,
		"quantity":        o.Quantity,
		"amount":          o.Amount,
		"currency":        o.Currency,
		"status":          string(o.Status),
		"payment_ref":     o.PaymentRef,
		"sales_channel":   o.SalesChannel,
		"qr_code_url":     o.QRCodeURL,
		"iccid":           o.ICCID,
		"activation_code": o.ActivationCode,
		"provider_used":   o.ProviderUsed,
		"error_message":   o.ErrorMessage,
	}
	if o.ID != "" {
		fields["id"] = o.ID
	}
	if o.Metadata != nil {
		fields["metadata"] = o.Metadata
	}
	return fields
}

func fromRecord(rec *store.Record) *core.Order {
	return &core.Order{
		ID:             rec.ID,
		OrderNumber:    rec.GetString("order_number"),
		CorrelationID:  rec.GetString("correlation_id"),
		CustomerEmail:  rec.GetString("customer_email"),
		CustomerName:   rec.GetString("customer_name"),
		CustomerPhone:  rec.GetString("customer_phone"),
		ProductID:      rec.GetString("product_id"),
		ProviderSKU:    rec.GetString("provider_sku"),
		Quantity:       rec.GetInt("quantity"),
		Amount:         rec.GetFloat("amount"),
		Currency:       rec.GetString("currency"),
		Status:         core.OrderStatus(rec.GetString("status")),
		PaymentRef:     rec.GetString("payment_ref"),
		SalesChannel:   rec.GetString("sales_channel"),
		QRCodeURL:      rec.GetString("qr_code_url"),
		ICCID:          rec.GetString("iccid"),
		ActivationCode: rec.GetString("activation_code"),
		ProviderUsed:   rec.GetString("provider_used"),
		ErrorMessage:   rec.GetString("error_message"),
		Metadata:       rec.GetMap("metadata"),
		Created:        rec.Created,
		Updated:        rec.Updated,
	}
}

func fromRecords(recs []*store.Record) []*core.Order {
	out := make([]*core.Order, len(recs))
	for i, rec := range recs {
		out[i] = fromRecord(rec)
	}
	return out
}

// MappingRepository resolves product mappings from the document store and
// implements core.ProductMapper.
type MappingRepository struct {
	col store.Collection
}

// NewMappingRepository builds a mapper over the product_mappings
// collection.
func NewMappingRepository(s store.Store) *MappingRepository {
	return &MappingRepository{col: s.Collection(store.CollectionProductMappings)}
}

// Map resolves one external product id. Inactive or missing mappings
// return ErrMappingNotFound.
func (m *MappingRepository) Map(ctx context.Context, externalProductID string) (*core.ProductMapping, error) {
	rec, err := m.col.First(ctx, store.Query{
		Filter: store.And(
			store.Eq("external_id", externalProductID),
			store.Eq("active", true),
		),
	})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("product %q: %w", externalProductID, core.ErrMappingNotFound)
		}
		return nil, err
	}
	return &core.ProductMapping{
		ID:          rec.ID,
		ExternalID:  rec.GetString("external_id"),
		ProductID:   rec.GetString("product_id"),
		ProviderSKU: rec.GetString("provider_sku"),
		DisplayName: rec.GetString("display_name"),
		Active:      rec.GetBool("active"),
	}, nil
}
