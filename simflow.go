// Package simflow assembles the eSIM commerce platform: order ingestion
// from sales channels, the provider fulfillment cascade with circuit
// breakers and manual fallback, and the customer-inquiry fabric, all
// behind one HTTP server.
//
// New wires every component from a core.Config; Run starts the server and
// the background loops (stuck-order reconciliation, inquiry sync, the
// SmartStore sales poll) and blocks until the context is cancelled.
package simflow

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/voyasim/simflow/channels"
	"github.com/voyasim/simflow/channels/smartstore"
	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/fulfillment"
	"github.com/voyasim/simflow/inquiry"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/notify"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/providers"
	"github.com/voyasim/simflow/providers/manual"
	"github.com/voyasim/simflow/resilience"
	"github.com/voyasim/simflow/server"
	"github.com/voyasim/simflow/store"
	"github.com/voyasim/simflow/store/memstore"
	"github.com/voyasim/simflow/store/pocketbase"
	"github.com/voyasim/simflow/telemetry"

	// Supplier factories register themselves from init().
	_ "github.com/voyasim/simflow/providers/airalo"
	_ "github.com/voyasim/simflow/providers/esimcard"
	_ "github.com/voyasim/simflow/providers/mobimatter"
	_ "github.com/voyasim/simflow/providers/redteago"
)

// adapterRateLimit bounds outbound calls per adapter token bucket. The
// strictest upstream (Kakao consultation API) allows 30 requests per
// second per app; everything else is looser.
const (
	adapterRateLimit  = 30
	adapterRateWindow = time.Second
)

// Platform holds every wired component of a running simflow instance.
type Platform struct {
	cfg         *core.Config
	logger      core.Logger
	db          store.Store
	cache       core.Cache
	metrics     *metrics.Metrics
	steps       *telemetry.StepLogger
	breakers    *resilience.BreakerStore
	orders      *orders.Repository
	normalizer  *orders.Normalizer
	inquiries   *inquiry.Service
	fulfillment *fulfillment.Service
	reconciler  *fulfillment.Reconciler
	server      *server.Server
	sales       *smartstore.Client

	tracingDown func(context.Context) error
	closers     []func(context.Context) error
}

type platformOptions struct {
	logger  core.Logger
	db      store.Store
	cache   core.Cache
	emailer core.EmailSender
}

// Option overrides one wired component, mostly for tests and embedders.
type Option func(*platformOptions)

// WithLogger substitutes the structured logger.
func WithLogger(l core.Logger) Option {
	return func(o *platformOptions) { o.logger = l }
}

// WithStore substitutes the record store, bypassing PocketBase.
func WithStore(s store.Store) Option {
	return func(o *platformOptions) { o.db = s }
}

// WithCache substitutes the cache, bypassing Redis.
func WithCache(c core.Cache) Option {
	return func(o *platformOptions) { o.cache = c }
}

// WithEmailSender substitutes the delivery email port.
func WithEmailSender(s core.EmailSender) Option {
	return func(o *platformOptions) { o.emailer = s }
}

// New wires the full platform from cfg. Nothing starts running until Run;
// construction only opens the store and cache connections.
func New(ctx context.Context, cfg *core.Config, opts ...Option) (*Platform, error) {
	if cfg == nil {
		return nil, fmt.Errorf("platform: %w: config", core.ErrMissingConfiguration)
	}
	var o platformOptions
	for _, opt := range opts {
		opt(&o)
	}

	p := &Platform{cfg: cfg}

	logger := o.logger
	if logger == nil {
		zl, err := core.NewLogger(cfg.Logging, cfg.ServiceName)
		if err != nil {
			return nil, err
		}
		logger = zl
		p.closers = append(p.closers, func(context.Context) error { return zl.Sync() })
	}
	p.logger = logger

	tracingDown, err := telemetry.SetupTracing(ctx, cfg.Telemetry, Version)
	if err != nil {
		return nil, fmt.Errorf("platform: tracing: %w", err)
	}
	p.tracingDown = tracingDown

	if err := p.wireStore(o.db); err != nil {
		return nil, err
	}
	if err := p.wireCache(o.cache); err != nil {
		return nil, err
	}

	tokens := core.NewTokenCache()
	limiter := core.NewRateLimiter(adapterRateLimit, adapterRateWindow)
	discord := notify.NewDiscord(cfg.Discord, logger)

	emailer := o.emailer
	if emailer == nil {
		if s := notify.NewSMTPSender(cfg.Channels.Email, logger); s != nil {
			emailer = s
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)
	p.metrics = m

	p.steps = telemetry.NewStepLogger(
		telemetry.WithAutomationSink(p.db.Collection(store.CollectionAutomationLogs), logger),
		telemetry.WithDropHook(m.StepLogsDropped.Inc),
	)

	breakers, err := resilience.NewBreakerStore(resilience.FromCore(cfg.Breaker),
		resilience.WithCollection(p.db.Collection(store.CollectionBreakerStates), cfg.Breaker.StoreRetryAfter),
		resilience.WithCacheTTL(cfg.Breaker.CacheTTL),
		resilience.WithBreakerLogger(logger),
		resilience.WithMetricsCollector(m),
	)
	if err != nil {
		return nil, fmt.Errorf("platform: breakers: %w", err)
	}
	p.breakers = breakers

	adapters, err := providers.Build(cfg.Providers, providers.Deps{
		Tokens:  tokens,
		Logger:  logger,
		Limiter: limiter,
		Discord: discord,
	})
	if err != nil {
		return nil, fmt.Errorf("platform: providers: %w", err)
	}

	channelAdapters := channels.Build(cfg.Channels, channels.Deps{
		Tokens:  tokens,
		Logger:  logger,
		Limiter: limiter,
		Sender:  emailer,
	})

	p.orders = orders.NewRepository(p.db)
	mappings := orders.NewMappingRepository(p.db)
	normalizer := orders.NewNormalizer(mappings, logger)
	p.normalizer = normalizer

	cascade := fulfillment.NewCascade(adapters, breakers, p.steps, m, logger)
	var notifier core.FailureNotifier = &core.NoOpFailureNotifier{}
	if !discord.Enabled() && emailer != nil && cfg.Channels.Email.InboxAddress != "" {
		notifier = &notify.EmailFailureNotifier{Sender: emailer, To: cfg.Channels.Email.InboxAddress}
	}
	p.fulfillment = fulfillment.NewService(fulfillment.ServiceOptions{
		Machine:    p.orders.Machine(logger),
		Cascade:    cascade,
		Normalizer: normalizer,
		Emailer:    emailer,
		Manual:     manual.New(discord, logger),
		Notifier:   notifier,
		Steps:      p.steps,
		Metrics:    m,
		Logger:     logger,
	})

	providerConfigs := func() []core.ProviderConfig { return cfg.Providers.Configs }
	p.reconciler = fulfillment.NewReconciler(
		p.orders, p.fulfillment, providerConfigs,
		cfg.Fulfillment.DeadlineBudget, cfg.Fulfillment.ReconcileInterval,
		p.steps, m, logger,
	)

	p.inquiries = inquiry.NewService(
		inquiry.NewRepository(p.db), channelAdapters,
		inquiry.DefaultTemplates(), p.steps, m, logger,
	)

	// Sales polling covers stores whose webhook push is not set up.
	if cfg.Channels.Naver.WebhookSecret == "" {
		sales := smartstore.New(cfg.Channels.Naver, tokens, logger, limiter)
		if sales.IsEnabled() {
			p.sales = sales
		}
	}

	srv, err := server.New(server.Options{
		Config:      cfg,
		Logger:      logger,
		Store:       p.db,
		Cache:       p.cache,
		Registry:    registry,
		Orders:      p.orders,
		Normalizer:  normalizer,
		Fulfillment: p.fulfillment,
		Reconciler:  p.reconciler,
		Inquiries:   p.inquiries,
		Emailer:     emailer,
		Breakers:    breakers,
		Metrics:     m,
		Providers:   providerConfigs,
	})
	if err != nil {
		return nil, err
	}
	p.server = srv

	return p, nil
}

func (p *Platform) wireStore(injected store.Store) error {
	if injected != nil {
		p.db = injected
		return nil
	}
	if p.cfg.Store.URL != "" {
		pb, err := pocketbase.New(p.cfg.Store, core.NewTokenCache(), p.logger)
		if err != nil {
			return fmt.Errorf("platform: store: %w", err)
		}
		p.db = pb
		p.closers = append(p.closers, func(context.Context) error { return pb.Close() })
		return nil
	}
	p.logger.Warn("No store URL configured, using in-memory store; data will not survive restarts", nil)
	p.db = memstore.New()
	return nil
}

func (p *Platform) wireCache(injected core.Cache) error {
	if injected != nil {
		p.cache = injected
		return nil
	}
	if p.cfg.Redis.URL != "" {
		rc, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  p.cfg.Redis.URL,
			Namespace: p.cfg.Redis.Namespace,
			Logger:    p.logger,
		})
		if err != nil {
			return fmt.Errorf("platform: cache: %w", err)
		}
		p.cache = rc
		p.closers = append(p.closers, func(context.Context) error { return rc.Close() })
		return nil
	}
	mem := core.NewMemoryStore()
	p.cache = mem
	p.closers = append(p.closers, func(context.Context) error { return mem.Close() })
	return nil
}

// Handler exposes the HTTP surface for embedding in another mux or in
// tests without binding a listener.
func (p *Platform) Handler() http.Handler {
	return p.server.Router()
}

// Inquiries exposes the inquiry service for embedders.
func (p *Platform) Inquiries() *inquiry.Service { return p.inquiries }

// Fulfillment exposes the fulfillment service for embedders.
func (p *Platform) Fulfillment() *fulfillment.Service { return p.fulfillment }

// Run starts the HTTP server and the background loops, blocking until ctx
// is cancelled, then shuts everything down in dependency order.
func (p *Platform) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.runBackground(ctx)
	}()

	err := p.server.Start(ctx)

	cancel()
	<-done
	if cerr := p.shutdown(); err == nil {
		err = cerr
	}
	return err
}

func (p *Platform) runBackground(ctx context.Context) {
	if p.cfg.Fulfillment.ReconcileInterval > 0 {
		go p.reconciler.Run(ctx)
	}
	if p.cfg.Fulfillment.SyncInterval > 0 {
		go p.runInquirySync(ctx)
	}
	if p.sales != nil {
		go p.runSalesSync(ctx)
	}
	<-ctx.Done()
}

func (p *Platform) runInquirySync(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Fulfillment.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := p.inquiries.SyncFromAllChannels(ctx)
			if len(report.Errors) > 0 {
				p.logger.Warn("Inquiry sync finished with channel errors", map[string]interface{}{
					"synced": report.Synced,
					"errors": report.Errors,
				})
			}
		}
	}
}

// runSalesSync polls SmartStore for paid orders when no webhook is
// registered. Each external order is ingested at most once; dedup rides
// the same cache keys the webhook handler uses.
func (p *Platform) runSalesSync(ctx context.Context) {
	interval := p.cfg.Fulfillment.SyncInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	cutoff := time.Now().Add(-interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := time.Now()
			p.pollSales(ctx, cutoff)
			cutoff = next
		}
	}
}

func (p *Platform) pollSales(ctx context.Context, since time.Time) {
	exts, err := p.sales.FetchPaidOrders(ctx, since)
	if err != nil {
		p.logger.Warn("SmartStore sales poll failed", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, ext := range exts {
		fresh, err := p.cache.SetNX(ctx, "webhook:smartstore:"+ext.ExternalOrderID, "1", 24*time.Hour)
		if err != nil {
			p.logger.Warn("Sales dedup check failed, processing anyway", map[string]interface{}{
				"external_order_id": ext.ExternalOrderID,
				"error":             err.Error(),
			})
		} else if !fresh {
			continue
		}
		order, err := p.normalizer.Normalize(ctx, ext)
		if err != nil {
			p.logger.Error("Sales order normalization failed", map[string]interface{}{
				"external_order_id": ext.ExternalOrderID,
				"error":             err.Error(),
			})
			continue
		}
		order.PaymentRef = ext.ExternalOrderID
		created, err := p.orders.Create(ctx, order)
		if err != nil {
			p.logger.Error("Sales order create failed", map[string]interface{}{
				"external_order_id": ext.ExternalOrderID,
				"error":             err.Error(),
			})
			continue
		}
		res, sentinel := fulfillment.FulfillWithTimeout(ctx, p.fulfillment, created, p.cfg.Providers.Configs, p.cfg.Fulfillment.DeadlineBudget)
		fields := map[string]interface{}{
			"external_order_id": ext.ExternalOrderID,
			"order_id":          created.ID,
		}
		if sentinel != nil {
			fields["timeout"] = true
		} else if res != nil {
			fields["final_state"] = string(res.FinalState)
		}
		p.logger.Info("Sales order ingested", fields)
	}
}

func (p *Platform) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var first error
	if err := p.steps.Close(ctx); err != nil && first == nil {
		first = err
	}
	if err := p.breakers.Close(ctx); err != nil && first == nil {
		first = err
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil && first == nil {
			first = err
		}
	}
	if p.tracingDown != nil {
		if err := p.tracingDown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
