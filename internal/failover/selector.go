// Package failover picks the provider to serve a call: the configured
// primary when it is healthy enough, otherwise the first usable entry from
// the configured fallback chain.
package failover

import (
	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
)

// StatusFunc reports the current health classification for a provider name.
// The health monitor's StatusOf satisfies it.
type StatusFunc func(providerName string) health.Status

// Selector chooses providers based on live health. bus may be nil.
type Selector struct {
	statusOf StatusFunc
	bus      *events.Bus
}

// NewSelector wires a selector to a health source.
func NewSelector(statusOf StatusFunc, bus *events.Bus) *Selector {
	return &Selector{statusOf: statusOf, bus: bus}
}

// Select scans primary followed by the fallbacks, in order, and returns the
// first provider not known to be down. Unknown counts as usable: a provider
// that was never probed must not be skipped on suspicion. When every
// candidate is down the primary is returned anyway, so the caller still makes
// the attempt and surfaces the real upstream error.
func (s *Selector) Select(primary string, fallbacks []string) string {
	candidates := make([]string, 0, 1+len(fallbacks))
	candidates = append(candidates, primary)
	candidates = append(candidates, fallbacks...)

	for _, name := range candidates {
		if s.statusOf(name) == health.StatusDown {
			continue
		}
		if name != primary {
			s.announceFallback(primary, name)
		}
		return name
	}

	log.Warn().
		Str("provider", primary).
		Strs("fallbacks", fallbacks).
		Msg("every provider is down, proceeding with primary")
	return primary
}

func (s *Selector) announceFallback(primary, chosen string) {
	log.Warn().
		Str("primary", primary).
		Str("chosen", chosen).
		Msg("primary provider unavailable, failing over")
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Topic:    events.TopicProviderFallback,
			Provider: chosen,
			Detail:   map[string]any{"primary": primary},
		})
	}
}
