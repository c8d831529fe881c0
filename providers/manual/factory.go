package manual

import (
	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/providers"
)

// Factory builds the manual terminal adapter for the registry.
type Factory struct{}

func init() {
	providers.MustRegister(&Factory{})
}

func (f *Factory) Slug() string { return slug }

func (f *Factory) Description() string {
	return "Manual fulfillment terminal (Discord operator notification)"
}

// Detect reports availability from the injected Discord client rather than
// credentials; the webhook URL is not a supplier credential.
func (f *Factory) Detect(creds core.ProviderCredentials) bool {
	return false
}

func (f *Factory) Create(cfg core.ProviderConfig, creds core.ProviderCredentials, deps providers.Deps) (core.ChannelAdapter, error) {
	return New(deps.Discord, deps.Logger), nil
}
