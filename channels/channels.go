// Package channels assembles the inquiry-side adapters: SmartStore Q&A,
// email, Kakao consultations, and Naver TalkTalk. Each channel lives in
// its own subpackage; this package holds the shared inquiry-only embed and
// the registry that builds every configured adapter.
package channels

import (
	"context"

	"github.com/voyasim/simflow/channels/email"
	"github.com/voyasim/simflow/channels/kakao"
	"github.com/voyasim/simflow/channels/smartstore"
	"github.com/voyasim/simflow/channels/talktalk"
	"github.com/voyasim/simflow/core"
)

// Deps carries the shared infrastructure injected into every channel
// adapter.
type Deps struct {
	Tokens  *core.TokenCache
	Logger  core.Logger
	Limiter *core.RateLimiter
	Sender  core.EmailSender
}

// Build constructs every channel adapter from the channel configuration.
// Adapters with incomplete credentials are still returned, disabled, so
// health reporting can name them.
func Build(cfg core.ChannelsConfig, deps Deps) map[core.InquiryChannel]core.ChannelAdapter {
	if deps.Logger == nil {
		deps.Logger = &core.NoOpLogger{}
	}
	if deps.Tokens == nil {
		deps.Tokens = core.NewTokenCache()
	}

	adapters := map[core.InquiryChannel]core.ChannelAdapter{
		core.ChannelSmartStore: smartstore.New(cfg.Naver, deps.Tokens, deps.Logger, deps.Limiter),
		core.ChannelEmail:      email.New(cfg.Email, deps.Sender, deps.Logger),
		core.ChannelKakao:      kakao.New(cfg.Kakao, deps.Logger, deps.Limiter),
		core.ChannelTalkTalk:   talktalk.New(cfg.TalkTalk, deps.Tokens, deps.Logger, deps.Limiter),
	}
	for ch, a := range adapters {
		if !a.IsEnabled() {
			deps.Logger.Info("Inquiry channel disabled, credentials incomplete", map[string]interface{}{
				"channel": string(ch),
			})
		}
	}
	return adapters
}

// Enabled filters the adapter map down to the usable ones.
func Enabled(adapters map[core.InquiryChannel]core.ChannelAdapter) map[core.InquiryChannel]core.ChannelAdapter {
	out := make(map[core.InquiryChannel]core.ChannelAdapter, len(adapters))
	for ch, a := range adapters {
		if a.IsEnabled() {
			out[ch] = a
		}
	}
	return out
}

// Health probes every adapter, enabled or not.
func Health(ctx context.Context, adapters map[core.InquiryChannel]core.ChannelAdapter) map[core.InquiryChannel]core.ChannelHealth {
	out := make(map[core.InquiryChannel]core.ChannelHealth, len(adapters))
	for ch, a := range adapters {
		h := core.ChannelHealth{Enabled: a.IsEnabled()}
		if h.Enabled {
			h.Healthy, h.Error = a.HealthCheck(ctx)
		}
		out[ch] = h
	}
	return out
}
