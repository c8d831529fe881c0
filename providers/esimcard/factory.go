package esimcard

import (
	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

// Factory builds eSIM Card adapters for the registry.
type Factory struct{}

func init() {
	providers.MustRegister(&Factory{})
}

func (f *Factory) Slug() string { return slug }

func (f *Factory) Description() string {
	return "eSIM Card supplier API (login token exchange)"
}

func (f *Factory) Detect(creds core.ProviderCredentials) bool {
	return creds.APIKey != "" && creds.APISecret != "" && creds.BaseURL != ""
}

func (f *Factory) Create(cfg core.ProviderConfig, creds core.ProviderCredentials, deps providers.Deps) (core.ChannelAdapter, error) {
	c := New(cfg, creds, deps.Tokens, deps.Logger)
	c.base.Limiter = deps.Limiter
	return c, nil
}
