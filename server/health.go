package server

import (
	"net/http"
	"time"

	"github.com/voyasim/simflow/core"
	"github.com/voyasim/simflow/store"
)

// handleHealth reports platform health. The document store is the only
// hard dependency; everything else degrades the status without failing
// the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	services := map[string]any{}
	status := "healthy"
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	if s.opts.Store != nil {
		_, err := s.opts.Store.Collection(store.CollectionOrders).List(ctx, store.Query{Limit: 1})
		if err != nil {
			services["store"] = map[string]any{"healthy": false, "error": err.Error()}
			status = "unhealthy"
		} else {
			services["store"] = map[string]any{"healthy": true}
		}
	}

	if _, err := s.opts.Cache.Exists(ctx, "health_probe"); err != nil {
		services["cache"] = map[string]any{"healthy": false, "error": err.Error()}
		degrade()
	} else {
		services["cache"] = map[string]any{"healthy": true}
	}

	if s.opts.Inquiries != nil {
		channels := map[string]any{}
		for ch, health := range s.opts.Inquiries.ChannelHealth(ctx) {
			channels[string(ch)] = health
			if health.Enabled && !health.Healthy {
				degrade()
			}
		}
		services["channels"] = channels
	}

	if s.opts.Breakers != nil {
		open := []string{}
		for provider, state := range s.opts.Breakers.Snapshot() {
			if state.Phase == core.BreakerOpen {
				open = append(open, provider)
			}
		}
		services["breakers"] = map[string]any{"open": open}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"services":  services,
		"uptime":    int(time.Since(s.startedAt).Seconds()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
