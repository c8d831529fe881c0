package redteago

import (
	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

// Factory builds RedteaGO adapters for the registry.
type Factory struct{}

func init() {
	providers.MustRegister(&Factory{})
}

func (f *Factory) Slug() string { return slug }

func (f *Factory) Description() string {
	return "RedteaGO eSIM API (static bearer, body-level result codes)"
}

func (f *Factory) Detect(creds core.ProviderCredentials) bool {
	return creds.APIKey != "" && creds.BaseURL != ""
}

func (f *Factory) Create(cfg core.ProviderConfig, creds core.ProviderCredentials, deps providers.Deps) (core.ChannelAdapter, error) {
	c := New(cfg, creds, deps.Logger)
	c.base.Limiter = deps.Limiter
	return c, nil
}
