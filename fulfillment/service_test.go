package fulfillment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/notify"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/providers/manual"
	"github.com/voyasim/simflow/resilience"
	"github.com/voyasim/simflow/store/memstore"
)

// scriptedAdapter answers Purchase from a queue of canned results.
type scriptedAdapter struct {
	core.InquiryOnly

	slug    string
	results []*core.PurchaseResult
	calls   atomic.Int32
	delay   time.Duration
}

func (a *scriptedAdapter) Slug() string        { return a.slug }
func (a *scriptedAdapter) DisplayName() string { return a.slug }
func (a *scriptedAdapter) IsEnabled() bool     { return true }
func (a *scriptedAdapter) HealthCheck(ctx context.Context) (bool, string) {
	return true, ""
}

func (a *scriptedAdapter) Purchase(ctx context.Context, req *core.PurchaseRequest) *core.PurchaseResult {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
		}
	}
	n := int(a.calls.Add(1)) - 1
	if n >= len(a.results) {
		n = len(a.results) - 1
	}
	return a.results[n]
}

func (a *scriptedAdapter) FetchInquiries(ctx context.Context, opts core.FetchOptions) ([]core.ExternalInquiry, error) {
	return nil, core.ErrNotSupported
}

func (a *scriptedAdapter) FetchMessages(ctx context.Context, externalID string) ([]core.ExternalMessage, error) {
	return nil, core.ErrNotSupported
}

func (a *scriptedAdapter) SendReply(ctx context.Context, externalID, content string) (*core.ReplyResult, error) {
	return nil, core.ErrNotSupported
}

type captureSender struct {
	messageID string
	fail      error
	sent      atomic.Int32
}

func (s *captureSender) SendESIMDelivery(ctx context.Context, order *core.Order, esim *core.ESIMData) (string, error) {
	s.sent.Add(1)
	if s.fail != nil {
		return "", s.fail
	}
	return s.messageID, nil
}

func (s *captureSender) Send(ctx context.Context, to, subject, body string) (string, error) {
	return s.messageID, nil
}

type captureNotifier struct {
	calls  atomic.Int32
	reason string
}

func (n *captureNotifier) NotifyFulfillmentFailure(ctx context.Context, order *core.Order, reason string) error {
	n.calls.Add(1)
	n.reason = reason
	return nil
}

// harness bundles the service with its seams.
type harness struct {
	store    *memstore.Store
	repo     *orders.Repository
	svc      *Service
	breakers *resilience.BreakerStore
	sender   *captureSender
	notifier *captureNotifier
	configs  []core.ProviderConfig
	order    *core.Order
}

func okESIM() *core.PurchaseResult {
	return core.OK(&core.ESIMData{
		ICCID:          "89012345678901234567",
		QRCodeURL:      "https://x/qr",
		ActivationCode: "LPA:1$a.com$AC",
	})
}

func serverError() *core.PurchaseResult {
	return core.Failure(core.KindProviderError, "upstream returned 500", true)
}

func fastPolicy(cfg core.ProviderConfig) resilience.Policy {
	p := resilience.DefaultPolicy(cfg.MaxRetries)
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	return p
}

func newHarness(t *testing.T, adapters map[string]core.ChannelAdapter, manualAdapter *manual.Adapter) *harness {
	t.Helper()

	st := memstore.New()
	repo := orders.NewRepository(st)

	breakers, err := resilience.NewBreakerStore(resilience.DefaultBreakerConfig())
	require.NoError(t, err)

	cascade := NewCascade(adapters, breakers, nil, nil, nil)
	cascade.PolicyFunc = fastPolicy

	sender := &captureSender{messageID: "msg-001"}
	notifier := &captureNotifier{}

	svc := NewService(ServiceOptions{
		Machine:  repo.Machine(nil),
		Cascade:  cascade,
		Emailer:  sender,
		Manual:   manualAdapter,
		Notifier: notifier,
	})

	order, err := repo.Create(context.Background(), &core.Order{
		ID:            "rec_HAPPY",
		OrderNumber:   "2026082000001",
		CorrelationID: "00000000-0000-4000-8000-000000000001",
		CustomerEmail: "t@example.com",
		ProductID:     "japan-7d-1g",
		ProviderSKU:   "japan-7d-1g",
		Quantity:      1,
		Status:        core.StatusPaymentReceived,
	})
	require.NoError(t, err)

	return &harness{
		store:    st,
		repo:     repo,
		svc:      svc,
		breakers: breakers,
		sender:   sender,
		notifier: notifier,
		configs: []core.ProviderConfig{
			{Slug: "airalo", Priority: 100, MaxRetries: 3, Timeout: time.Second, Active: true},
			{Slug: "esimcard", Priority: 90, MaxRetries: 3, Timeout: time.Second, Active: true},
		},
		order: order,
	}
}

func TestFulfillHappyPath(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	esimcard := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo, "esimcard": esimcard}, nil)

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusDelivered, res.FinalState)
	assert.True(t, res.Success)
	assert.Equal(t, "airalo", res.ProviderUsed)
	assert.Len(t, res.Attempts, 1)
	assert.True(t, res.EmailSent)
	assert.Equal(t, "msg-001", res.EmailMessageID)
	assert.Equal(t, int32(0), esimcard.calls.Load(), "cascade stops at the first success")

	stored, err := h.repo.Get(context.Background(), h.order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDelivered, stored.Status)
	assert.Equal(t, "89012345678901234567", stored.ICCID)
	assert.Equal(t, "LPA:1$a.com$AC", stored.ActivationCode)
	assert.Equal(t, "airalo", stored.ProviderUsed)
}

func TestFulfillFailover(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{serverError()}}
	esimcard := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo, "esimcard": esimcard}, nil)

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusDelivered, res.FinalState)
	assert.Equal(t, "esimcard", res.ProviderUsed)
	assert.Equal(t, int32(4), airalo.calls.Load(), "3 retries means 4 attempts")

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "airalo", res.Attempts[0].Provider)
	assert.False(t, res.Attempts[0].Success)
	assert.Equal(t, 3, res.Attempts[0].Retries)
	assert.Equal(t, "esimcard", res.Attempts[1].Provider)
	assert.True(t, res.Attempts[1].Success)

	require.NotEmpty(t, res.FailoverEvents)
	assert.Equal(t, "airalo", res.FailoverEvents[0].From)
	assert.Equal(t, "esimcard", res.FailoverEvents[0].To)
}

func TestFulfillAllFailWithDiscord(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	discord := notify.NewDiscord(core.DiscordConfig{WebhookURL: srv.URL, Timeout: time.Second}, nil)
	manualAdapter := manual.New(discord, nil)

	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{serverError()}}
	esimcard := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{serverError()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo, "esimcard": esimcard}, manualAdapter)

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusPendingManual, res.FinalState)
	assert.True(t, res.PendingManualFulfillment)
	assert.True(t, res.ManualNotificationSent)
	assert.False(t, res.Success)

	last := res.Attempts[len(res.Attempts)-1]
	assert.Equal(t, "manual", last.Provider)
	assert.True(t, last.Success)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, "t***@example.com", "payload must carry the masked email")
	assert.NotContains(t, body, "t@example.com", "payload must not leak the raw email")
	assert.Contains(t, body, "00000000-0000-4000-8000-000000000001")
	assert.Contains(t, body, "airalo")
	assert.Contains(t, body, "esimcard")

	stored, err := h.repo.Get(context.Background(), h.order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPendingManual, stored.Status)
}

func TestFulfillAllFailWithoutDiscord(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{serverError()}}
	esimcard := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{serverError()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo, "esimcard": esimcard}, nil)

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusProviderFailed, res.FinalState)
	assert.False(t, res.PendingManualFulfillment)
	assert.Equal(t, int32(1), h.notifier.calls.Load(), "failure notification port invoked")
	assert.Contains(t, h.notifier.reason, "airalo")
}

func TestFulfillSkipsOpenCircuit(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	esimcard := &scriptedAdapter{slug: "esimcard", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo, "esimcard": esimcard}, nil)

	h.breakers.Trip(context.Background(), "airalo")

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, "esimcard", res.ProviderUsed)
	assert.Equal(t, int32(0), airalo.calls.Load(), "open circuit must not be called")
	for _, a := range res.Attempts {
		assert.NotEqual(t, "airalo", a.Provider)
	}
}

func TestFulfillAllCircuitsOpen(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo}, nil)
	h.configs = h.configs[:1]

	h.breakers.Trip(context.Background(), "airalo")

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	assert.Equal(t, core.StatusProviderFailed, res.FinalState)
	assert.Empty(t, res.FailoverEvents)
	assert.Equal(t, int32(0), airalo.calls.Load())
}

func TestFulfillEmailFailureStillDelivers(t *testing.T) {
	airalo := &scriptedAdapter{slug: "airalo", results: []*core.PurchaseResult{okESIM()}}
	h := newHarness(t, map[string]core.ChannelAdapter{"airalo": airalo}, nil)
	h.sender.fail = &core.PlatformError{Op: "mail", Kind: core.KindNetworkError, Message: "smtp down", Retryable: true}

	res := h.svc.Fulfill(context.Background(), h.order, h.configs)

	require.NoError(t, res.Err)
	assert.Equal(t, core.StatusDelivered, res.FinalState)
	assert.True(t, res.Success, "email failure is non-fatal")
	assert.False(t, res.EmailSent)

	stored, err := h.repo.Get(context.Background(), h.order.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusDelivered, stored.Status)
	assert.Contains(t, stored.Metadata["email_error"], "smtp down")
}
