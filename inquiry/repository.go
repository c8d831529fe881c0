package inquiry

import (
	"context"
	"fmt"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// ListFilter narrows a List call. Zero values match everything.
type ListFilter struct {
	Channel    core.InquiryChannel
	Statuses   []core.InquiryStatus
	Priority   core.InquiryPriority
	AssignedTo string
	// Search matches as a substring over subject, content, and
	// customer_name.
	Search string
	Sort   string
	Offset int
	Limit  int
}

// Repository persists inquiries and their conversation messages.
type Repository struct {
	inquiries store.Collection
	messages  store.Collection
}

// NewRepository builds a repository over the inquiry collections.
func NewRepository(s store.Store) *Repository {
	return &Repository{
		inquiries: s.Collection(store.CollectionInquiries),
		messages:  s.Collection(store.CollectionInquiryMessages),
	}
}

// Create inserts a new inquiry.
func (r *Repository) Create(ctx context.Context, inq *core.Inquiry) (*core.Inquiry, error) {
	rec, err := r.inquiries.Create(ctx, inquiryFields(inq))
	if err != nil {
		return nil, fmt.Errorf("creating inquiry %s/%s: %w", inq.Channel, inq.ExternalID, err)
	}
	return inquiryFromRecord(rec), nil
}

// Get fetches one inquiry by record id.
func (r *Repository) Get(ctx context.Context, id string) (*core.Inquiry, error) {
	rec, err := r.inquiries.Get(ctx, id)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("inquiry %s: %w", id, core.ErrInquiryNotFound)
		}
		return nil, err
	}
	return inquiryFromRecord(rec), nil
}

// ByChannelAndExternalID resolves the channel-unique key.
func (r *Repository) ByChannelAndExternalID(ctx context.Context, channel core.InquiryChannel, externalID string) (*core.Inquiry, error) {
	rec, err := r.inquiries.First(ctx, store.Query{
		Filter: store.And(
			store.Eq("channel", string(channel)),
			store.Eq("external_id", externalID),
		),
	})
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("inquiry %s/%s: %w", channel, externalID, core.ErrInquiryNotFound)
		}
		return nil, err
	}
	return inquiryFromRecord(rec), nil
}

// Patch updates the given fields on an inquiry.
func (r *Repository) Patch(ctx context.Context, id string, fields map[string]any) (*core.Inquiry, error) {
	rec, err := r.inquiries.Update(ctx, id, fields)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, fmt.Errorf("inquiry %s: %w", id, core.ErrInquiryNotFound)
		}
		return nil, err
	}
	return inquiryFromRecord(rec), nil
}

// List returns a filtered page plus the unpaged match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]*core.Inquiry, int, error) {
	filter := f.expr()

	all, err := r.inquiries.List(ctx, store.Query{Filter: filter})
	if err != nil {
		return nil, 0, err
	}

	recs, err := r.inquiries.List(ctx, store.Query{
		Filter: filter,
		Sort:   f.sort(),
		Offset: f.Offset,
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	out := make([]*core.Inquiry, len(recs))
	for i, rec := range recs {
		out[i] = inquiryFromRecord(rec)
	}
	return out, len(all), nil
}

// All returns every inquiry. The metrics aggregation reads the whole
// collection.
func (r *Repository) All(ctx context.Context) ([]*core.Inquiry, error) {
	recs, err := r.inquiries.List(ctx, store.Query{Sort: "created"})
	if err != nil {
		return nil, err
	}
	out := make([]*core.Inquiry, len(recs))
	for i, rec := range recs {
		out[i] = inquiryFromRecord(rec)
	}
	return out, nil
}

// CreateMessage appends one conversation entry.
func (r *Repository) CreateMessage(ctx context.Context, msg *core.InquiryMessage) (*core.InquiryMessage, error) {
	rec, err := r.messages.Create(ctx, messageFields(msg))
	if err != nil {
		return nil, fmt.Errorf("creating message for inquiry %s: %w", msg.InquiryID, err)
	}
	return messageFromRecord(rec), nil
}

// MessagesByInquiry lists the conversation oldest first.
func (r *Repository) MessagesByInquiry(ctx context.Context, inquiryID string) ([]*core.InquiryMessage, error) {
	recs, err := r.messages.List(ctx, store.Query{
		Filter: store.Eq("inquiry_id", inquiryID),
		Sort:   "created",
	})
	if err != nil {
		return nil, err
	}
	out := make([]*core.InquiryMessage, len(recs))
	for i, rec := range recs {
		out[i] = messageFromRecord(rec)
	}
	return out, nil
}

func (f ListFilter) expr() *store.Expr {
	var parts []*store.Expr
	if f.Channel != "" {
		parts = append(parts, store.Eq("channel", string(f.Channel)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]*store.Expr, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = store.Eq("status", string(s))
		}
		parts = append(parts, store.Or(statuses...))
	}
	if f.Priority != "" {
		parts = append(parts, store.Eq("priority", string(f.Priority)))
	}
	if f.AssignedTo != "" {
		parts = append(parts, store.Eq("assigned_to", f.AssignedTo))
	}
	if f.Search != "" {
		parts = append(parts, store.Or(
			store.Like("subject", f.Search),
			store.Like("content", f.Search),
			store.Like("customer_name", f.Search),
		))
	}
	if len(parts) == 0 {
		return nil
	}
	return store.And(parts...)
}

func (f ListFilter) sort() string {
	switch f.Sort {
	case "created", "-created", "updated", "-updated", "priority", "-priority":
		return f.Sort
	default:
		return "-created"
	}
}

func inquiryFields(inq *core.Inquiry) map[string]any {
	fields := map[string]any{
		"channel":         string(inq.Channel),
		"external_id":     inq.ExternalID,
		"status":          string(inq.Status),
		"priority":        string(inq.Priority),
		"subject":         inq.Subject,
		"content":         inq.Content,
		"customer_name":   inq.CustomerName,
		"customer_email":  inq.CustomerEmail,
		"customer_id":     inq.CustomerID,
		"assigned_to":     inq.AssignedTo,
		"linked_order_id": inq.LinkedOrderID,
	}
	if inq.ID != "" {
		fields["id"] = inq.ID
	}
	if inq.FirstResponseAt != nil {
		fields["first_response_at"] = store.FormatTime(*inq.FirstResponseAt)
	}
	if inq.ResolvedAt != nil {
		fields["resolved_at"] = store.FormatTime(*inq.ResolvedAt)
	}
	return fields
}

func inquiryFromRecord(rec *store.Record) *core.Inquiry {
	inq := &core.Inquiry{
		ID:            rec.ID,
		Channel:       core.InquiryChannel(rec.GetString("channel")),
		ExternalID:    rec.GetString("external_id"),
		Status:        core.InquiryStatus(rec.GetString("status")),
		Priority:      core.InquiryPriority(rec.GetString("priority")),
		Subject:       rec.GetString("subject"),
		Content:       rec.GetString("content"),
		CustomerName:  rec.GetString("customer_name"),
		CustomerEmail: rec.GetString("customer_email"),
		CustomerID:    rec.GetString("customer_id"),
		AssignedTo:    rec.GetString("assigned_to"),
		LinkedOrderID: rec.GetString("linked_order_id"),
		Created:       rec.Created,
		Updated:       rec.Updated,
	}
	if t := rec.GetTime("first_response_at"); !t.IsZero() {
		inq.FirstResponseAt = &t
	}
	if t := rec.GetTime("resolved_at"); !t.IsZero() {
		inq.ResolvedAt = &t
	}
	return inq
}

func messageFields(msg *core.InquiryMessage) map[string]any {
	fields := map[string]any{
		"inquiry_id":          msg.InquiryID,
		"direction":           string(msg.Direction),
		"sender_type":         string(msg.SenderType),
		"sender_name":         msg.SenderName,
		"content":             msg.Content,
		"template_id":         msg.TemplateID,
		"delivery_status":     string(msg.DeliveryStatus),
		"external_message_id": msg.ExternalMessageID,
	}
	if msg.ID != "" {
		fields["id"] = msg.ID
	}
	return fields
}

func messageFromRecord(rec *store.Record) *core.InquiryMessage {
	return &core.InquiryMessage{
		ID:                rec.ID,
		InquiryID:         rec.GetString("inquiry_id"),
		Direction:         core.MessageDirection(rec.GetString("direction")),
		SenderType:        core.SenderType(rec.GetString("sender_type")),
		SenderName:        rec.GetString("sender_name"),
		Content:           rec.GetString("content"),
		TemplateID:        rec.GetString("template_id"),
		DeliveryStatus:    core.DeliveryStatus(rec.GetString("delivery_status")),
		ExternalMessageID: rec.GetString("external_message_id"),
		Created:           rec.Created,
	}
}
