package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// Test IsRetryable function
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "timeout kind is retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindTimeout},
			expected: true,
		},
		{
			name:     "rate limit kind is retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindRateLimit},
			expected: true,
		},
		{
			name:     "network error kind is retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindNetworkError},
			expected: true,
		},
		{
			name:     "provider error marked retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindProviderError, Retryable: true},
			expected: true,
		},
		{
			name:     "provider error not marked",
			err:      &PlatformError{Op: "purchase", Kind: KindProviderError},
			expected: false,
		},
		{
			name:     "authentication is not retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindAuthentication},
			expected: false,
		},
		{
			name:     "authentication stays non-retryable even when flagged",
			err:      &PlatformError{Op: "purchase", Kind: KindAuthentication, Retryable: true},
			expected: false,
		},
		{
			name:     "validation is not retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindValidation},
			expected: false,
		},
		{
			name:     "invalid response is not retryable",
			err:      &PlatformError{Op: "purchase", Kind: KindInvalidResponse},
			expected: false,
		},
		{
			name:     "raw context deadline is retryable",
			err:      context.DeadlineExceeded,
			expected: true,
		},
		{
			name:     "wrapped deadline sentinel is retryable",
			err:      fmt.Errorf("fulfillment: %w", ErrDeadlineExceeded),
			expected: true,
		},
		{
			name:     "wrapped token refresh is not retryable",
			err:      fmt.Errorf("adapter: %w", ErrTokenRefresh),
			expected: false,
		},
		{
			name:     "custom error is not retryable",
			err:      errors.New("custom error"),
			expected: false,
		},
		{
			name:     "nil error is not retryable",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryable(tt.err)
			if result != tt.expected {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// Test ClassifyHTTP mapping from status codes to error kinds
func TestClassifyHTTP(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      ErrorKind
		retryable bool
	}{
		{"401 unauthorized", 401, KindAuthentication, false},
		{"403 forbidden", 403, KindAuthentication, false},
		{"429 rate limited", 429, KindRateLimit, true},
		{"400 bad request", 400, KindValidation, false},
		{"422 unprocessable", 422, KindValidation, false},
		{"500 server error", 500, KindProviderError, true},
		{"502 bad gateway", 502, KindProviderError, true},
		{"503 unavailable", 503, KindProviderError, true},
		{"504 gateway timeout", 504, KindProviderError, true},
		{"404 not found", 404, KindProviderError, false},
		{"409 conflict", 409, KindProviderError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryable := ClassifyHTTP(tt.status)
			if kind != tt.kind {
				t.Errorf("ClassifyHTTP(%d) kind = %v, want %v", tt.status, kind, tt.kind)
			}
			if retryable != tt.retryable {
				t.Errorf("ClassifyHTTP(%d) retryable = %v, want %v", tt.status, retryable, tt.retryable)
			}
		})
	}
}

// Test Classify on raw and wrapped errors
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{
			name: "platform error passthrough",
			err:  NewPlatformError("x", KindRateLimit, errors.New("slow down")),
			kind: KindRateLimit,
		},
		{
			name: "context deadline",
			err:  context.DeadlineExceeded,
			kind: KindTimeout,
		},
		{
			name: "wrapped deadline sentinel",
			err:  fmt.Errorf("wrap: %w", ErrDeadlineExceeded),
			kind: KindTimeout,
		},
		{
			name: "token refresh is authentication",
			err:  fmt.Errorf("no: %w", ErrTokenRefresh),
			kind: KindAuthentication,
		},
		{
			name: "circuit open is provider error",
			err:  ErrCircuitOpen,
			kind: KindProviderError,
		},
		{
			name: "plain error is unknown",
			err:  errors.New("mystery"),
			kind: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.kind {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.kind)
			}
		})
	}
}

// Test PlatformError formatting and unwrapping
func TestPlatformErrorFormat(t *testing.T) {
	base := errors.New("connection refused")
	err := &PlatformError{
		Op:       "provider.purchase",
		Kind:     KindNetworkError,
		Provider: "airalo",
		Err:      base,
	}

	msg := err.Error()
	for _, want := range []string{"provider.purchase", "airalo", "connection refused"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, base) {
		t.Error("PlatformError should unwrap to the base error")
	}
}

func TestPlatformErrorSentinelChain(t *testing.T) {
	err := &PlatformError{
		Op:   "token.refresh",
		Kind: KindAuthentication,
		Err:  fmt.Errorf("%w: status 500", ErrTokenRefresh),
	}

	if !errors.Is(err, ErrTokenRefresh) {
		t.Error("expected errors.Is to find ErrTokenRefresh through the chain")
	}
	if got := Classify(err); got != KindAuthentication {
		t.Errorf("Classify = %v, want %v", got, KindAuthentication)
	}
}

// Test IsNotFound function
func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"order not found", ErrOrderNotFound, true},
		{"wrapped record not found", fmt.Errorf("lookup: %w", ErrRecordNotFound), true},
		{"mapping not found", ErrMappingNotFound, true},
		{"inquiry not found", ErrInquiryNotFound, true},
		{"other error", errors.New("other"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.expected {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
