// Package server exposes the operator and webhook HTTP surface: the
// fulfillment trigger, admin order and inquiry endpoints, payment
// webhooks, and the health and metrics probes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/fulfillment"
	"github.com/voyasim/simflow/inquiry"
	"github.com/voyasim/simflow/metrics"
	"github.com/voyasim/simflow/orders"
	"github.com/voyasim/simflow/resilience"
	"github.com/voyasim/simflow/store"
)

// Options carries the wired platform components the HTTP layer fronts.
type Options struct {
	Config      *core.Config
	Logger      core.Logger
	Store       store.Store
	Cache       core.Cache
	Registry    prometheus.Gatherer
	Orders      *orders.Repository
	Normalizer  *orders.Normalizer
	Fulfillment *fulfillment.Service
	Reconciler  *fulfillment.Reconciler
	Inquiries   *inquiry.Service
	Emailer     core.EmailSender
	Breakers    *resilience.BreakerStore
	Metrics     *metrics.Metrics

	// Providers supplies the current cascade list per request so admin
	// toggles take effect without restart.
	Providers func() []core.ProviderConfig
}

// Server is the HTTP front of the platform.
type Server struct {
	opts      Options
	cfg       *core.Config
	logger    core.Logger
	machine   *orders.StateMachine
	startedAt time.Time
	http      *http.Server
}

// New validates the wiring and builds the server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("server: %w: config", core.ErrMissingConfiguration)
	}
	if opts.Orders == nil || opts.Fulfillment == nil {
		return nil, fmt.Errorf("server: %w: order repository and fulfillment service", core.ErrMissingConfiguration)
	}
	if opts.Logger == nil {
		opts.Logger = &core.NoOpLogger{}
	}
	if opts.Cache == nil {
		opts.Cache = core.NewMemoryStore()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.DefaultGatherer
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Providers == nil {
		configs := opts.Config.Providers.Configs
		opts.Providers = func() []core.ProviderConfig { return configs }
	}

	return &Server{
		opts:      opts,
		cfg:       opts.Config,
		logger:    opts.Logger,
		machine:   opts.Orders.Machine(opts.Logger),
		startedAt: time.Now(),
	}, nil
}

// Router assembles the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(s.cfg.HTTP.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.HTTP.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{}))

	r.Post("/orders/{id}/fulfill", s.handleFulfill)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", s.handleStripeWebhook)
		r.Post("/smartstore", s.handleSmartStoreWebhook)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)

		r.Get("/orders/{id}", s.handleAdminGetOrder)
		r.Patch("/orders/{id}", s.handleAdminPatchOrder)
		r.Post("/orders/{id}/resend-email", s.handleResendEmail)
		r.Post("/reconcile", s.handleReconcile)

		r.Get("/inquiries", s.handleListInquiries)
		r.Get("/inquiries/metrics", s.handleInquiryMetrics)
		r.Post("/inquiries/sync", s.handleInquirySync)
		r.Get("/inquiries/{id}", s.handleGetInquiry)
		r.Patch("/inquiries/{id}", s.handlePatchInquiry)
		r.Post("/inquiries/{id}/reply", s.handleReplyInquiry)
	})

	return otelhttp.NewHandler(r, s.cfg.ServiceName)
}

// Start serves until ctx is cancelled, then drains within the configured
// shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{
			"address": addr,
		})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
