package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind classifies a failure for retry decisions and operator triage.
// The set is closed; adapters must map supplier-specific failures onto it.
type ErrorKind string

const (
	KindTimeout         ErrorKind = "timeout"
	KindRateLimit       ErrorKind = "rate_limit"
	KindInvalidResponse ErrorKind = "invalid_response"
	KindNetworkError    ErrorKind = "network_error"
	KindAuthentication  ErrorKind = "authentication"
	KindValidation      ErrorKind = "validation"
	KindProviderError   ErrorKind = "provider_error"
	KindUnknown         ErrorKind = "unknown"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Order and state machine errors
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrOrderNotFound     = errors.New("order not found")

	// Inquiry errors
	ErrInquiryNotFound  = errors.New("inquiry not found")
	ErrTemplateNotFound = errors.New("reply template not found")

	// Store errors
	ErrRecordNotFound   = errors.New("record not found")
	ErrStoreUnavailable = errors.New("document store unavailable")

	// Adapter errors
	ErrNotConfigured    = errors.New("adapter not configured")
	ErrNotSupported     = errors.New("operation not supported by adapter")
	ErrMappingNotFound  = errors.New("product mapping not found")
	ErrProviderDisabled = errors.New("provider disabled")

	// Resilience errors
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrDeadlineExceeded   = errors.New("fulfillment deadline exceeded")

	// Credential errors
	ErrTokenRefresh = errors.New("token refresh failed")

	// Webhook errors
	ErrWebhookSignature = errors.New("webhook signature verification failed")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// PlatformError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type PlatformError struct {
	Op            string    // Operation that failed (e.g., "cascade.Execute")
	Kind          ErrorKind // Taxonomy kind, drives retry decisions
	Provider      string    // Optional provider or channel slug
	CorrelationID string    // Optional correlation id of the fulfillment
	Message       string    // Human-readable message
	Retryable     bool      // Only consulted for KindProviderError
	Err           error     // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *PlatformError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Provider != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Provider, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewPlatformError creates a new PlatformError
func NewPlatformError(op string, kind ErrorKind, err error) *PlatformError {
	return &PlatformError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// ClassifyHTTP maps an HTTP status code to an error kind and whether the
// failure is retryable: 401/403 -> authentication, 429 -> rate_limit,
// 400/422 -> validation, >= 500 -> provider_error (retryable). Remaining
// 4xx codes are provider errors that must not be retried.
func ClassifyHTTP(statusCode int) (ErrorKind, bool) {
	switch {
	case statusCode == 401 || statusCode == 403:
		return KindAuthentication, false
	case statusCode == 429:
		return KindRateLimit, true
	case statusCode == 400 || statusCode == 422:
		return KindValidation, false
	case statusCode >= 500:
		return KindProviderError, true
	case statusCode >= 400:
		return KindProviderError, false
	default:
		return KindUnknown, false
	}
}

// Classify maps an arbitrary error to a taxonomy kind. PlatformError kinds
// pass through; context deadlines and net timeouts become timeout; transport
// failures become network_error.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrDeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, ErrTokenRefresh) {
		return KindAuthentication
	}
	if errors.Is(err, ErrCircuitOpen) {
		return KindProviderError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetworkError
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindNetworkError
	}

	return KindUnknown
}

// IsRetryable reports whether a failed operation may be attempted again.
// The retryable set is {timeout, rate_limit, network_error} plus any
// provider_error explicitly marked retryable by the adapter.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		switch pe.Kind {
		case KindTimeout, KindRateLimit, KindNetworkError:
			return true
		case KindProviderError:
			return pe.Retryable
		default:
			return false
		}
	}

	switch Classify(err) {
	case KindTimeout, KindRateLimit, KindNetworkError:
		return true
	}
	return false
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrInquiryNotFound) ||
		errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrMappingNotFound) ||
		errors.Is(err, ErrTemplateNotFound)
}

// IsAuthentication checks if an error is credential-related
func IsAuthentication(err error) bool {
	if errors.Is(err, ErrTokenRefresh) {
		return true
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind == KindAuthentication
	}
	return false
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
