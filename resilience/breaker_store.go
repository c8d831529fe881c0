package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// MetricsCollector receives breaker observability events. The production
// implementation lives in the metrics package; the default is a no-op.
type MetricsCollector interface {
	RecordTransition(provider string, to core.BreakerPhase)
	SetPhase(provider string, phase core.BreakerPhase)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(string, core.BreakerPhase) {}
func (noopMetrics) SetPhase(string, core.BreakerPhase)         {}

// BreakerStore owns the per-provider circuit state. Truth lives in the
// circuit_breaker_states collection so instances converge; a 5s TTL cache
// keeps decisions off the store's hot path and an in-memory fallback map
// keeps the cascade working while the store is down. Store reads are gated
// by a gobreaker circuit that reopens after the configured retry window, so
// one slow database cannot stall every purchase.
type BreakerStore struct {
	cfg     BreakerConfig
	col     store.Collection
	cache   *stateCache
	gate    *gobreaker.CircuitBreaker
	logger  core.Logger
	metrics MetricsCollector
	now     func() time.Time

	mu        sync.RWMutex
	fallback  map[string]core.BreakerState
	recordIDs map[string]string

	writes    chan core.BreakerState
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// BreakerOption configures a BreakerStore.
type BreakerOption func(*BreakerStore)

// WithCollection persists breaker state in the given collection. retryAfter
// is how long store reads stay suspended after a store error.
func WithCollection(col store.Collection, retryAfter time.Duration) BreakerOption {
	return func(b *BreakerStore) {
		b.col = col
		b.gate = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "breaker-store",
			MaxRequests: 1,
			Timeout:     retryAfter,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 1
			},
		})
	}
}

// WithBreakerLogger sets the logger for persistence failures.
func WithBreakerLogger(logger core.Logger) BreakerOption {
	return func(b *BreakerStore) { b.logger = logger }
}

// WithMetricsCollector wires breaker transition metrics.
func WithMetricsCollector(m MetricsCollector) BreakerOption {
	return func(b *BreakerStore) { b.metrics = m }
}

// WithCacheTTL overrides the local snapshot TTL.
func WithCacheTTL(ttl time.Duration) BreakerOption {
	return func(b *BreakerStore) { b.cache = newStateCache(ttl) }
}

// WithClock substitutes the time source in tests.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *BreakerStore) {
		b.now = now
		b.cache.now = now
	}
}

// NewBreakerStore builds a breaker store. Without WithCollection it runs
// purely in memory, which single-process tests and the library default use.
func NewBreakerStore(cfg BreakerConfig, opts ...BreakerOption) (*BreakerStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &BreakerStore{
		cfg:       cfg,
		cache:     newStateCache(5 * time.Second),
		logger:    &core.NoOpLogger{},
		metrics:   noopMetrics{},
		now:       time.Now,
		fallback:  make(map[string]core.BreakerState),
		recordIDs: make(map[string]string),
		writes:    make(chan core.BreakerState, 64),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.col != nil {
		b.wg.Add(1)
		go b.persistLoop()
	}
	return b, nil
}

// State returns the current breaker state for a provider, applying the
// open→half_open promotion when the reset timeout has elapsed. Unknown
// providers report a fresh closed circuit.
func (b *BreakerStore) State(ctx context.Context, provider string) core.BreakerState {
	s := b.load(ctx, provider)
	s, changed := b.cfg.Evaluate(s, b.now())
	if changed {
		b.commit(s)
	}
	return s
}

// Filter returns the providers whose circuit is not open, preserving input
// order. Open circuits past their reset timeout are promoted to half_open
// and pass the filter.
func (b *BreakerStore) Filter(ctx context.Context, providers []core.ProviderConfig) []core.ProviderConfig {
	out := make([]core.ProviderConfig, 0, len(providers))
	for _, p := range providers {
		if b.State(ctx, p.Slug).Phase != core.BreakerOpen {
			out = append(out, p)
		}
	}
	return out
}

// RecordSuccess folds a successful purchase into the provider's circuit.
func (b *BreakerStore) RecordSuccess(ctx context.Context, provider string) core.BreakerState {
	s := b.load(ctx, provider)
	s, changed := b.cfg.RecordSuccess(s, b.now())
	b.commit(s)
	if changed {
		b.metrics.RecordTransition(provider, s.Phase)
	}
	return s
}

// RecordFailure folds a failed purchase into the provider's circuit.
func (b *BreakerStore) RecordFailure(ctx context.Context, provider string) core.BreakerState {
	s := b.load(ctx, provider)
	s, changed := b.cfg.RecordFailure(s, b.now())
	b.commit(s)
	if changed {
		b.metrics.RecordTransition(provider, s.Phase)
	}
	return s
}

// Trip forces a provider's circuit open, as if it had just failed past the
// threshold. Operators use it to drain traffic away from a supplier.
func (b *BreakerStore) Trip(ctx context.Context, provider string) core.BreakerState {
	now := b.now()
	s := b.load(ctx, provider)
	s.Phase = core.BreakerOpen
	s.ConsecutiveFailures = b.cfg.FailureThreshold
	s.ConsecutiveSuccesses = 0
	s.LastFailureTime = now
	s.LastStateChange = now
	b.commit(s)
	b.metrics.RecordTransition(provider, core.BreakerOpen)
	return s
}

// Reset closes a provider's circuit and clears its counters.
func (b *BreakerStore) Reset(ctx context.Context, provider string) core.BreakerState {
	s := NewBreakerState(provider, b.now())
	b.commit(s)
	b.metrics.RecordTransition(provider, core.BreakerClosed)
	return s
}

// Snapshot returns the fallback view of every known circuit, for the
// health endpoint.
func (b *BreakerStore) Snapshot() map[string]core.BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]core.BreakerState, len(b.fallback))
	for k, v := range b.fallback {
		out[k] = v
	}
	return out
}

// Close drains pending persistence writes, bounded by ctx.
func (b *BreakerStore) Close(ctx context.Context) error {
	b.closeOnce.Do(func() { close(b.writes) })
	if b.col == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// load resolves the current state: local cache first, then the store (when
// its gate allows), then the fallback map, defaulting to a closed circuit.
func (b *BreakerStore) load(ctx context.Context, provider string) core.BreakerState {
	if v, ok := b.cache.get(provider); ok {
		return v.(core.BreakerState)
	}

	if b.col != nil {
		v, err := b.gate.Execute(func() (interface{}, error) {
			return b.col.First(ctx, store.Query{Filter: store.Eq("provider", provider)})
		})
		switch {
		case err == nil:
			rec := v.(*store.Record)
			s := stateFromRecord(rec)
			b.mu.Lock()
			b.recordIDs[provider] = rec.ID
			b.fallback[provider] = s
			b.mu.Unlock()
			b.cache.set(provider, s)
			return s
		case core.IsNotFound(err):
			// No record yet; a closed circuit is created on first write.
		default:
			b.logger.Warn("Breaker store read failed, serving fallback", map[string]interface{}{
				"provider": provider,
				"error":    err.Error(),
			})
		}
	}

	b.mu.RLock()
	s, ok := b.fallback[provider]
	b.mu.RUnlock()
	if !ok {
		s = NewBreakerState(provider, b.now())
	}
	return s
}

// commit updates cache and fallback synchronously and enqueues persistence
// without blocking the calling purchase.
func (b *BreakerStore) commit(s core.BreakerState) {
	b.cache.set(s.Provider, s)
	b.mu.Lock()
	b.fallback[s.Provider] = s
	b.mu.Unlock()
	b.metrics.SetPhase(s.Provider, s.Phase)

	if b.col == nil {
		return
	}
	select {
	case b.writes <- s:
	default:
		b.logger.Warn("Breaker persistence backlog full, dropping write", map[string]interface{}{
			"provider": s.Provider,
		})
	}
}

func (b *BreakerStore) persistLoop() {
	defer b.wg.Done()
	for s := range b.writes {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := b.persist(ctx, s); err != nil {
			b.logger.Warn("Breaker persistence failed", map[string]interface{}{
				"provider": s.Provider,
				"phase":    string(s.Phase),
				"error":    err.Error(),
			})
		}
		cancel()
	}
}

func (b *BreakerStore) persist(ctx context.Context, s core.BreakerState) error {
	fields := recordFromState(s)

	b.mu.RLock()
	id := b.recordIDs[s.Provider]
	b.mu.RUnlock()

	if id == "" {
		rec, err := b.col.First(ctx, store.Query{Filter: store.Eq("provider", s.Provider)})
		switch {
		case err == nil:
			id = rec.ID
		case core.IsNotFound(err):
			created, err := b.col.Create(ctx, fields)
			if err != nil {
				return err
			}
			b.mu.Lock()
			b.recordIDs[s.Provider] = created.ID
			b.mu.Unlock()
			return nil
		default:
			return err
		}
		b.mu.Lock()
		b.recordIDs[s.Provider] = id
		b.mu.Unlock()
	}

	_, err := b.col.Update(ctx, id, fields)
	return err
}

func recordFromState(s core.BreakerState) map[string]any {
	return map[string]any{
		"provider":                  s.Provider,
		"phase":                     string(s.Phase),
		"consecutive_failure_count": s.ConsecutiveFailures,
		"consecutive_success_count": s.ConsecutiveSuccesses,
		"last_failure_time":         store.FormatTime(s.LastFailureTime),
		"last_state_change":         store.FormatTime(s.LastStateChange),
	}
}

func stateFromRecord(rec *store.Record) core.BreakerState {
	return core.BreakerState{
		Provider:             rec.GetString("provider"),
		Phase:                core.BreakerPhase(rec.GetString("phase")),
		ConsecutiveFailures:  rec.GetInt("consecutive_failure_count"),
		ConsecutiveSuccesses: rec.GetInt("consecutive_success_count"),
		LastFailureTime:      rec.GetTime("last_failure_time"),
		LastStateChange:      rec.GetTime("last_state_change"),
	}
}

// SortProviders orders a cascade list by priority descending with slug
// ascending as the tie-break, without mutating the input.
func SortProviders(providers []core.ProviderConfig) []core.ProviderConfig {
	out := make([]core.ProviderConfig, len(providers))
	copy(out, providers)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Slug < out[j].Slug
	})
	return out
}
