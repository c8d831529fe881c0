package core

import (
	"context"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ChannelAdapter is the uniform contract over every external integration:
// eSIM suppliers (purchase side) and inquiry channels (conversation side).
// Provider adapters answer Purchase and typically reject the inquiry
// operations with ErrNotSupported; inquiry adapters do the reverse.
// Adapters are stateless beyond their token cache and rate-limit window.
type ChannelAdapter interface {
	// Slug returns the unique adapter identifier (e.g. "airalo").
	Slug() string

	// DisplayName returns the human-readable adapter name.
	DisplayName() string

	// IsEnabled reports whether configuration is complete enough to use
	// the adapter. Disabled adapters are skipped, never an error.
	IsEnabled() bool

	// HealthCheck probes the upstream service. The string carries an
	// optional diagnostic message.
	HealthCheck(ctx context.Context) (bool, string)

	// Purchase places one eSIM order. Failures are returned inside the
	// result variant, never as a Go error.
	Purchase(ctx context.Context, req *PurchaseRequest) *PurchaseResult

	// FetchInquiries lists external inquiries. Push-only channels return
	// an empty slice.
	FetchInquiries(ctx context.Context, opts FetchOptions) ([]ExternalInquiry, error)

	// FetchMessages returns the per-inquiry conversation where the
	// channel supports it.
	FetchMessages(ctx context.Context, externalID string) ([]ExternalMessage, error)

	// SendReply dispatches an agent reply to the external conversation.
	SendReply(ctx context.Context, externalID, content string) (*ReplyResult, error)
}

// EmailSender is the injected delivery port; implementations return a
// message id on success. notify.SMTPSender is the bundled default.
type EmailSender interface {
	// SendESIMDelivery emails the eSIM artifact to the order's customer.
	SendESIMDelivery(ctx context.Context, order *Order, esim *ESIMData) (messageID string, err error)

	// Send delivers a free-form message, used for inquiry replies over
	// the email channel.
	Send(ctx context.Context, to, subject, body string) (messageID string, err error)
}

// FailureNotifier alerts operators when fulfillment fails without a
// manual-fulfillment request being filed.
type FailureNotifier interface {
	NotifyFulfillmentFailure(ctx context.Context, order *Order, reason string) error
}

// ProductMapper resolves an external product id to the internal product
// and per-provider SKU. A miss returns ErrMappingNotFound.
type ProductMapper interface {
	Map(ctx context.Context, externalProductID string) (*ProductMapping, error)
}

// InquiryOnly is the purchase-side stub embedded by inquiry channel
// adapters. The counterpart for supplier adapters lives in the providers
// package.
type InquiryOnly struct{}

func (InquiryOnly) Purchase(ctx context.Context, req *PurchaseRequest) *PurchaseResult {
	return Failure(KindValidation, "channel does not place eSIM orders", false)
}

// Cache is shared key/value state with TTL semantics, used for webhook
// replay dedup and product-mapping lookups. Implementations: MemoryStore
// (process-local) and RedisClient (shared).
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetNX sets the key only if absent and reports whether it was set.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpFailureNotifier swallows failure alerts, for library consumers that
// wire their own alerting.
type NoOpFailureNotifier struct{}

func (n *NoOpFailureNotifier) NotifyFulfillmentFailure(ctx context.Context, order *Order, reason string) error {
	return nil
}
