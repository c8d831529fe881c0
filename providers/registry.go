// Package providers hosts the eSIM supplier adapter registry and the HTTP
// base client shared by every supplier package. Each supplier registers a
// Factory from its init(), so a blank import is all it takes to make a
// supplier available to the cascade.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/notify"
)

// Deps carries the shared infrastructure injected into every adapter.
type Deps struct {
	Tokens  *core.TokenCache
	Logger  core.Logger
	Limiter *core.RateLimiter
	Discord *notify.Discord
}

// Factory builds one supplier's adapter. Implementations are stateless;
// construction happens once per process.
type Factory interface {
	// Create builds the adapter from its cascade entry and credentials.
	Create(cfg core.ProviderConfig, creds core.ProviderCredentials, deps Deps) (core.ChannelAdapter, error)

	// Detect reports whether the credentials are complete enough to
	// enable the adapter. Missing credentials are not an error.
	Detect(creds core.ProviderCredentials) bool

	// Slug returns the unique supplier identifier.
	Slug() string

	// Description returns a human-readable supplier summary.
	Description() string
}

type factoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var registry = &factoryRegistry{
	factories: make(map[string]Factory),
}

// Register adds a supplier factory. Typically called from init() in the
// supplier's package.
func Register(factory Factory) error {
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	slug := factory.Slug()
	if slug == "" {
		return fmt.Errorf("factory.Slug() cannot be empty")
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()

	if _, exists := registry.factories[slug]; exists {
		return fmt.Errorf("provider %q already registered", slug)
	}
	registry.factories[slug] = factory
	return nil
}

// MustRegister registers a factory and panics on error. Use in init().
func MustRegister(factory Factory) {
	if err := Register(factory); err != nil {
		panic(fmt.Sprintf("failed to register provider: %v", err))
	}
}

// Get retrieves a registered factory by slug.
func Get(slug string) (Factory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[slug]
	return f, ok
}

// List returns all registered supplier slugs, sorted.
func List() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	slugs := make([]string, 0, len(registry.factories))
	for slug := range registry.factories {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Build constructs adapters for every cascade entry whose factory is
// registered. Entries without a factory or with incomplete credentials
// produce disabled placeholders rather than errors, so one missing
// credential never takes the platform down.
func Build(cfg core.ProvidersConfig, deps Deps) (map[string]core.ChannelAdapter, error) {
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Tokens == nil {
		deps.Tokens = core.NewTokenCache()
	}

	adapters := make(map[string]core.ChannelAdapter, len(cfg.Configs))
	for _, pc := range cfg.Configs {
		factory, ok := Get(pc.Slug)
		if !ok {
			deps.Logger.Warn("No factory registered for provider", map[string]interface{}{
				"provider": pc.Slug,
			})
			continue
		}
		creds := cfg.Creds[pc.Slug]
		adapter, err := factory.Create(pc, creds, deps)
		if err != nil {
			return nil, fmt.Errorf("building %s adapter: %w", pc.Slug, err)
		}
		adapters[pc.Slug] = adapter

		if !factory.Detect(creds) {
			deps.Logger.Info("Provider disabled, credentials incomplete", map[string]interface{}{
				"provider": pc.Slug,
			})
		}
	}
	return adapters, nil
}

// resetForTest clears the registry between test runs.
func resetForTest() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories = make(map[string]Factory)
}
