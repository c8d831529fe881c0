package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/voyasim/simflow/core"
)

// CorrelationHeader is the default header carrying the order's correlation
// id on outbound supplier calls. Suppliers with their own trace header
// override it per adapter.
const CorrelationHeader = "X-Correlation-ID"

// defaultUserAgent identifies the service to suppliers.
const defaultUserAgent = "simflow-fulfillment/1.0"

// BaseClient provides the HTTP plumbing shared by all supplier adapters:
// timeout-bound client with tracing transport, correlation propagation,
// JSON round-trips, and taxonomy-classified failures.
type BaseClient struct {
	HTTPClient *http.Client
	Logger     core.Logger

	// UserAgent is sent on every request.
	UserAgent string

	// CorrelationHeader names the header the supplier expects the
	// correlation id in.
	CorrelationHeader string

	// Limiter, when set, paces outbound calls per supplier slug.
	Limiter *core.RateLimiter
}

// NewBaseClient builds a base client with the per-provider timeout.
func NewBaseClient(timeout time.Duration, logger core.Logger) *BaseClient {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BaseClient{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		Logger:            logger,
		UserAgent:         defaultUserAgent,
		CorrelationHeader: CorrelationHeader,
	}
}

// Response is the decoded-enough result of one supplier call.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return &core.PlatformError{
			Op:      "providers.decode",
			Kind:    core.KindInvalidResponse,
			Message: fmt.Sprintf("malformed supplier response: %v", err),
			Err:     err,
		}
	}
	return nil
}

// DoJSON issues one JSON request. payload nil sends no body. headers merge
// over the standard set (Content-Type, User-Agent, correlation). Transport
// failures return a classified error; HTTP status handling is left to the
// adapter, which owns its supplier's success predicate.
func (b *BaseClient) DoJSON(ctx context.Context, method, rawURL, correlationID string, headers map[string]string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, &core.PlatformError{Op: "providers.request", Kind: core.KindUnknown, Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, &core.PlatformError{Op: "providers.request", Kind: core.KindUnknown, Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent())
	if correlationID != "" {
		req.Header.Set(b.correlationHeader(), correlationID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &core.PlatformError{
			Op:        "providers.request",
			Kind:      core.KindNetworkError,
			Message:   "reading supplier response",
			Retryable: true,
			Err:       err,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header}, nil
}

// DoForm issues one application/x-www-form-urlencoded request, used by
// channels whose token endpoints reject JSON bodies.
func (b *BaseClient) DoForm(ctx context.Context, method, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &core.PlatformError{Op: "providers.request", Kind: core.KindUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", b.userAgent())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &core.PlatformError{
			Op:        "providers.request",
			Kind:      core.KindNetworkError,
			Message:   "reading supplier response",
			Retryable: true,
			Err:       err,
		}
	}
	return &Response{StatusCode: resp.StatusCode, Body: raw, Header: resp.Header}, nil
}

// Acquire blocks nothing; it checks the adapter's rate window and converts
// an exhausted window into a retryable rate_limit failure.
func (b *BaseClient) Acquire(slug string) *core.PurchaseResult {
	if b.Limiter == nil {
		return nil
	}
	if allowed, retryAfter := b.Limiter.Allow(slug); !allowed {
		return core.Failure(core.KindRateLimit,
			fmt.Sprintf("local rate window exhausted, retry in %ds", retryAfter), true)
	}
	return nil
}

func (b *BaseClient) userAgent() string {
	if b.UserAgent != "" {
		return b.UserAgent
	}
	return defaultUserAgent
}

func (b *BaseClient) correlationHeader() string {
	if b.CorrelationHeader != "" {
		return b.CorrelationHeader
	}
	return CorrelationHeader
}

// classifyTransport maps a client error onto the taxonomy. Context
// deadlines and net timeouts are timeouts, everything else transport-level
// is a network error; both are retryable.
func classifyTransport(err error) error {
	kind := core.KindNetworkError
	msg := "supplier call failed"

	var uerr *url.Error
	if core.Classify(err) == core.KindTimeout || (errors.As(err, &uerr) && uerr.Timeout()) {
		kind = core.KindTimeout
		msg = "supplier call timed out"
	}
	return &core.PlatformError{
		Op:        "providers.request",
		Kind:      kind,
		Message:   msg,
		Retryable: true,
		Err:       err,
	}
}

// FailureFromResult converts a classified error into a purchase failure.
func FailureFromResult(err error) *core.PurchaseResult {
	kind := core.Classify(err)
	return core.Failure(kind, err.Error(), core.IsRetryable(err))
}

// FailureFromStatus builds the standard failure for an unexpected HTTP
// status, applying the taxonomy's status mapping.
func FailureFromStatus(slug string, status int, body []byte) *core.PurchaseResult {
	kind, retryable := core.ClassifyHTTP(status)
	detail := string(body)
	if len(detail) > 300 {
		detail = detail[:300]
	}
	return core.Failure(kind, fmt.Sprintf("%s returned HTTP %d: %s", slug, status, detail), retryable)
}

// SynthesizeLPA assembles the activation code from its SM-DP+ parts.
func SynthesizeLPA(smdp, matchingID string) string {
	if smdp == "" || matchingID == "" {
		return ""
	}
	return fmt.Sprintf("LPA:1$%s$%s", smdp, matchingID)
}

// SynthesizeQRURL renders a deterministic QR image URL for an activation
// code when the supplier returns none.
func SynthesizeQRURL(activationCode string) string {
	if activationCode == "" {
		return ""
	}
	return "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data=" + url.QueryEscape(activationCode)
}

// PurchaseOnly is embedded by supplier adapters to reject the inquiry side
// of the ChannelAdapter contract.
type PurchaseOnly struct{}

// FetchInquiries is not supported by supplier adapters.
func (PurchaseOnly) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	return nil, core.ErrNotSupported
}

// FetchMessages is not supported by supplier adapters.
func (PurchaseOnly) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

// SendReply is not supported by supplier adapters.
func (PurchaseOnly) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	return nil, core.ErrNotSupported
}
