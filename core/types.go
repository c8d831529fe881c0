package core

import (
	"time"
)

// OrderStatus enumerates the durable order lifecycle. Transitions between
// statuses are validated by the order state machine; writing a status
// outside the transition table is a programming error.
type OrderStatus string

const (
	StatusPaymentReceived    OrderStatus = "payment_received"
	StatusFulfillmentStarted OrderStatus = "fulfillment_started"
	StatusProviderConfirmed  OrderStatus = "provider_confirmed"
	StatusEmailSent          OrderStatus = "email_sent"
	StatusDelivered          OrderStatus = "delivered"
	StatusProviderFailed     OrderStatus = "provider_failed"
	StatusPendingManual      OrderStatus = "pending_manual_fulfillment"
)

// Terminal reports whether no automated transition leaves this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusDelivered, StatusProviderFailed, StatusPendingManual:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPaymentReceived, StatusFulfillmentStarted, StatusProviderConfirmed,
		StatusEmailSent, StatusDelivered, StatusProviderFailed, StatusPendingManual:
		return true
	}
	return false
}

// Order is the durable order record. It is created by payment ingest and
// mutated only through the state machine. Artifact fields (QRCodeURL,
// ICCID, ActivationCode, ProviderUsed) are non-empty iff the status is
// email_sent or delivered.
type Order struct {
	ID             string                 `json:"id"`
	OrderNumber    string                 `json:"order_number"`
	CorrelationID  string                 `json:"correlation_id"`
	CustomerEmail  string                 `json:"customer_email"`
	CustomerName   string                 `json:"customer_name,omitempty"`
	CustomerPhone  string                 `json:"customer_phone,omitempty"`
	ProductID      string                 `json:"product_id"`
	ProviderSKU    string                 `json:"provider_sku,omitempty"`
	Quantity       int                    `json:"quantity"`
	Amount         float64                `json:"amount"`
	Currency       string                 `json:"currency"`
	Status         OrderStatus            `json:"status"`
	PaymentRef     string                 `json:"payment_ref,omitempty"`
	SalesChannel   string                 `json:"sales_channel,omitempty"`
	QRCodeURL      string                 `json:"qr_code_url,omitempty"`
	ICCID          string                 `json:"iccid,omitempty"`
	ActivationCode string                 `json:"activation_code,omitempty"`
	ProviderUsed   string                 `json:"provider_used,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Created        time.Time              `json:"created"`
	Updated        time.Time              `json:"updated"`
}

// HasArtifact reports whether the eSIM artifact is complete enough to
// deliver: an ICCID plus an activation code.
func (o *Order) HasArtifact() bool {
	return o.ICCID != "" && o.ActivationCode != ""
}

// ESIMData is the artifact extracted from a successful provider purchase.
type ESIMData struct {
	QRCodeURL       string `json:"qr_code_url,omitempty"`
	ICCID           string `json:"iccid"`
	ActivationCode  string `json:"activation_code"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
}

// PurchaseRequest carries everything a provider adapter needs to place one
// eSIM order. CorrelationID must be propagated on the outbound request in a
// provider-appropriate header.
type PurchaseRequest struct {
	OrderID       string `json:"order_id"`
	CorrelationID string `json:"correlation_id"`
	CustomerEmail string `json:"customer_email"`
	ProductID     string `json:"product_id"`
	ProviderSKU   string `json:"provider_sku"`
	Quantity      int    `json:"quantity"`
}

// PurchaseStatus discriminates the purchase result variants.
type PurchaseStatus string

const (
	PurchaseOK            PurchaseStatus = "ok"
	PurchaseFailed        PurchaseStatus = "failure"
	PurchasePendingManual PurchaseStatus = "pending_manual"
)

// PurchaseResult is the tagged result returned by every provider adapter.
// Adapters never return Go errors across the purchase boundary; failures
// are carried in the ErrorType/ErrorMessage/Retryable fields.
type PurchaseResult struct {
	Status           PurchaseStatus `json:"status"`
	ESIM             *ESIMData      `json:"esim,omitempty"`
	ErrorType        ErrorKind      `json:"error_type,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Retryable        bool           `json:"retryable,omitempty"`
	NotificationSent bool           `json:"notification_sent,omitempty"`
}

// OK builds a successful purchase result.
func OK(esim *ESIMData) *PurchaseResult {
	return &PurchaseResult{Status: PurchaseOK, ESIM: esim}
}

// Failure builds a failed purchase result.
func Failure(kind ErrorKind, message string, retryable bool) *PurchaseResult {
	return &PurchaseResult{
		Status:       PurchaseFailed,
		ErrorType:    kind,
		ErrorMessage: message,
		Retryable:    retryable,
	}
}

// PendingManual builds the manual-fulfillment sentinel result.
func PendingManual(notificationSent bool) *PurchaseResult {
	return &PurchaseResult{Status: PurchasePendingManual, NotificationSent: notificationSent}
}

// ProviderConfig describes one supplier in the cascade priority list.
type ProviderConfig struct {
	Slug          string        `json:"slug" yaml:"slug"`
	DisplayName   string        `json:"display_name" yaml:"display_name"`
	Priority      int           `json:"priority" yaml:"priority"`
	BaseURL       string        `json:"base_url" yaml:"base_url"`
	CredentialEnv string        `json:"credential_env" yaml:"credential_env"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	Active        bool          `json:"active" yaml:"active"`
	SuccessRate   float64       `json:"success_rate,omitempty" yaml:"-"`
	LastSuccess   *time.Time    `json:"last_success,omitempty" yaml:"-"`
	LastFailure   *time.Time    `json:"last_failure,omitempty" yaml:"-"`
}

// BreakerPhase enumerates circuit breaker phases.
type BreakerPhase string

const (
	BreakerClosed   BreakerPhase = "closed"
	BreakerOpen     BreakerPhase = "open"
	BreakerHalfOpen BreakerPhase = "half_open"
)

// BreakerState is the per-provider circuit breaker record shared across
// instances through the document store.
type BreakerState struct {
	Provider             string       `json:"provider"`
	Phase                BreakerPhase `json:"phase"`
	ConsecutiveFailures  int          `json:"consecutive_failure_count"`
	ConsecutiveSuccesses int          `json:"consecutive_success_count"`
	LastFailureTime      time.Time    `json:"last_failure_time"`
	LastStateChange      time.Time    `json:"last_state_change"`
}

// InquiryChannel enumerates supported inquiry sources.
type InquiryChannel string

const (
	ChannelSmartStore InquiryChannel = "smartstore"
	ChannelKakao      InquiryChannel = "kakao"
	ChannelEmail      InquiryChannel = "email"
	ChannelTalkTalk   InquiryChannel = "talktalk"
)

// InquiryStatus enumerates inquiry workflow states.
type InquiryStatus string

const (
	InquiryNew        InquiryStatus = "new"
	InquiryInProgress InquiryStatus = "in_progress"
	InquiryResolved   InquiryStatus = "resolved"
	InquiryClosed     InquiryStatus = "closed"
)

// InquiryPriority enumerates triage priorities.
type InquiryPriority string

const (
	PriorityLow    InquiryPriority = "low"
	PriorityNormal InquiryPriority = "normal"
	PriorityHigh   InquiryPriority = "high"
	PriorityUrgent InquiryPriority = "urgent"
)

// Inquiry is a customer inquiry synced from an external channel.
// (Channel, ExternalID) is unique across the collection.
type Inquiry struct {
	ID              string          `json:"id"`
	Channel         InquiryChannel  `json:"channel"`
	ExternalID      string          `json:"external_id"`
	Status          InquiryStatus   `json:"status"`
	Priority        InquiryPriority `json:"priority"`
	Subject         string          `json:"subject"`
	Content         string          `json:"content"`
	CustomerName    string          `json:"customer_name,omitempty"`
	CustomerEmail   string          `json:"customer_email,omitempty"`
	CustomerID      string          `json:"customer_id,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty"`
	LinkedOrderID   string          `json:"linked_order_id,omitempty"`
	FirstResponseAt *time.Time      `json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	Created         time.Time       `json:"created"`
	Updated         time.Time       `json:"updated"`
}

// MessageDirection distinguishes inbound customer messages from outbound
// agent replies.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// SenderType identifies who produced a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"
)

// DeliveryStatus tracks outbound message delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// InquiryMessage is one append-only conversation entry. Ordering is
// strictly by creation time.
type InquiryMessage struct {
	ID                string           `json:"id"`
	InquiryID         string           `json:"inquiry_id"`
	Direction         MessageDirection `json:"direction"`
	SenderType        SenderType       `json:"sender_type"`
	SenderName        string           `json:"sender_name,omitempty"`
	Content           string           `json:"content"`
	TemplateID        string           `json:"template_id,omitempty"`
	DeliveryStatus    DeliveryStatus   `json:"delivery_status,omitempty"`
	ExternalMessageID string           `json:"external_message_id,omitempty"`
	Created           time.Time        `json:"created"`
}

// ExternalInquiry is the channel-neutral shape adapters return from
// FetchInquiries before the inquiry service upserts it.
type ExternalInquiry struct {
	Channel       InquiryChannel `json:"channel"`
	ExternalID    string         `json:"external_id"`
	Subject       string         `json:"subject"`
	Content       string         `json:"content"`
	CustomerName  string         `json:"customer_name,omitempty"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	CustomerID    string         `json:"customer_id,omitempty"`
	Replied       bool           `json:"replied"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ExternalMessage is one conversation entry fetched from a channel.
type ExternalMessage struct {
	ExternalID string           `json:"external_id"`
	Direction  MessageDirection `json:"direction"`
	Content    string           `json:"content"`
	CreatedAt  time.Time        `json:"created_at"`
}

// FetchOptions narrows a FetchInquiries call.
type FetchOptions struct {
	IncludeReplied bool
	Since          time.Time
	Limit          int
}

// ReplyResult is returned by SendReply.
type ReplyResult struct {
	Success           bool           `json:"success"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	ExternalMessageID string         `json:"external_message_id,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// ChannelHealth is one adapter's entry in the channel health report.
type ChannelHealth struct {
	Enabled bool   `json:"enabled"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// ProductMapping links an external product id to the internal product and
// the SKU each provider expects.
type ProductMapping struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id"`
	ProductID   string `json:"product_id"`
	ProviderSKU string `json:"provider_sku"`
	DisplayName string `json:"display_name,omitempty"`
	Active      bool   `json:"active"`
}

// Token is a cached credential with its absolute expiry.
type Token struct {
	AccessToken string
	TokenType   string
	Expiry      time.Time
}

// Valid reports whether the token exists and is not within the refresh
// window (60s before expiry).
func (t *Token) Valid(now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return now.Before(t.Expiry.Add(-tokenRefreshWindow))
}
