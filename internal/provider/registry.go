package provider

import (
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

// Registry maps provider keys to adapters, case-insensitively. Multiple keys
// may alias the same adapter ("claude" and "anthropic" share one
// implementation).
//
// Lookup never fails: an unregistered key degrades to the default adapter
// with a logged warning. A misconfigured provider name must not take the
// gateway down; the health monitor and failover selector handle a provider
// that cannot actually serve.
type Registry struct {
	adapters    map[string]Adapter
	defaultName string
}

// NewRegistry creates a registry whose Lookup falls back to the adapter
// registered under defaultName.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		adapters:    make(map[string]Adapter),
		defaultName: strings.ToLower(defaultName),
	}
}

// Register binds the adapter to one or more keys. Later registrations of the
// same key replace earlier ones.
func (r *Registry) Register(a Adapter, keys ...string) {
	if len(keys) == 0 {
		keys = []string{a.Name()}
	}
	for _, k := range keys {
		r.adapters[strings.ToLower(k)] = a
	}
}

// Lookup resolves a provider key to its adapter. Unknown keys return the
// default adapter with a warning; callers never see a "provider not found"
// error from this layer.
func (r *Registry) Lookup(key string) Adapter {
	if a, ok := r.adapters[strings.ToLower(key)]; ok {
		return a
	}
	log.Warn().
		Str("provider", key).
		Str("fallback", r.defaultName).
		Msg("unknown provider key, using default adapter")
	return r.Default()
}

// Has reports whether the key is registered. The configuration update path
// uses this to reject unknown provider names up front, even though Lookup
// itself degrades gracefully.
func (r *Registry) Has(key string) bool {
	_, ok := r.adapters[strings.ToLower(key)]
	return ok
}

// Default returns the adapter registered under the default key.
func (r *Registry) Default() Adapter {
	return r.adapters[r.defaultName]
}

// BuildRegistry constructs the standard registry with every supported
// provider family registered under its canonical key and aliases.
func BuildRegistry(counter *tokenest.Counter, defaultProvider string) *Registry {
	r := NewRegistry(defaultProvider)
	r.Register(NewOpenAI(counter), "openai")
	r.Register(NewDeepSeek(counter), "deepseek")
	r.Register(NewAnthropic(counter), "anthropic", "claude")
	r.Register(NewOllama(counter), "ollama", "local")
	return r
}

// Keys returns all registered keys, sorted, aliases included.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
