package aiconfig

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/resilient"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
)

const (
	// CacheTTL is how long a loaded Configuration is served without
	// consulting persistence.
	CacheTTL = 5 * time.Minute

	// LoadDeadline bounds a full load (all retry attempts included). When it
	// elapses the caller gets a resilient.TimeoutError.
	LoadDeadline = 10 * time.Second

	loadMaxAttempts = 3
	loadBaseDelay   = 500 * time.Millisecond
)

// Persistence is the slice of the storage layer the Store needs. *store.Store
// satisfies it.
type Persistence interface {
	LoadConfigDocument(ctx context.Context) (doc []byte, found bool, err error)
	SaveConfigDocument(ctx context.Context, doc []byte) error
}

// Store serves the singleton Configuration with a TTL cache in front of
// persistence. Reads within the TTL never touch storage; after expiry the
// next read reloads under the store lock, so concurrent callers trigger a
// single reload.
type Store struct {
	persist Persistence
	vault   *vault.Vault
	reg     *provider.Registry
	bus     *events.Bus

	// now and sleep are swapped in tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	// onUpdated runs after every successful UpdateConfig, on a separate
	// goroutine. The health monitor registers its immediate re-check here.
	onUpdated func(*Config)

	mu        sync.Mutex
	cached    *Config
	fetchedAt time.Time
}

// NewStore wires a configuration store. onUpdated may be nil.
func NewStore(p Persistence, v *vault.Vault, reg *provider.Registry, bus *events.Bus) *Store {
	return &Store{
		persist: p,
		vault:   v,
		reg:     reg,
		bus:     bus,
		now:     time.Now,
		sleep:   sleepWithContext,
	}
}

// OnUpdated registers the hook invoked after each successful update.
func (s *Store) OnUpdated(fn func(*Config)) {
	s.onUpdated = fn
}

// GetConfig returns the current Configuration. A cached document younger than
// CacheTTL is returned as-is; otherwise the store reloads from persistence.
// The returned Config is shared and must not be mutated.
func (s *Store) GetConfig(ctx context.Context) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.fetchedAt) < CacheTTL {
		return s.cached, nil
	}

	cfg, err := resilient.Race(ctx, LoadDeadline, s.loadWithRetry)
	if err != nil {
		return nil, err
	}

	s.cached = cfg
	s.fetchedAt = s.now()
	return cfg, nil
}

// Invalidate drops the cache so the next GetConfig reloads. Used after
// out-of-band writes to the database.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// loadWithRetry attempts the persistence read up to loadMaxAttempts times
// with exponential backoff. A missing document is not an error: the
// first-ever load synthesizes and persists a default Configuration.
func (s *Store) loadWithRetry(ctx context.Context) (*Config, error) {
	var lastErr error
	for attempt := 1; attempt <= loadMaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, loadBaseDelay<<(attempt-2)); err != nil {
				return nil, err
			}
		}

		doc, found, err := s.persist.LoadConfigDocument(ctx)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("config load failed")
			continue
		}
		if !found {
			return s.bootstrap(ctx)
		}

		var cfg Config
		if err := json.Unmarshal(doc, &cfg); err != nil {
			// A corrupt document will not heal on retry.
			return nil, &ConfigurationError{Reason: "stored configuration is not valid JSON", Err: err}
		}
		return &cfg, nil
	}
	return nil, &ConfigurationError{Reason: "loading configuration", Err: lastErr}
}

// bootstrap synthesizes the first-run Configuration from the environment
// credential, persists it, and returns it.
func (s *Store) bootstrap(ctx context.Context) (*Config, error) {
	key := os.Getenv(CredentialEnv)
	if err := vault.ValidateCredentialFormat(key); err != nil {
		return nil, &ConfigurationError{
			Reason: "no stored configuration and no usable " + CredentialEnv,
			Err:    err,
		}
	}

	cfg := defaultConfig(s.vault.Encrypt(key))
	doc, err := json.Marshal(cfg)
	if err != nil {
		return nil, &ConfigurationError{Reason: "encoding default configuration", Err: err}
	}
	if err := s.persist.SaveConfigDocument(ctx, doc); err != nil {
		return nil, &ConfigurationError{Reason: "persisting default configuration", Err: err}
	}

	log.Info().Str("provider", cfg.Provider).Msg("synthesized default configuration")
	return cfg, nil
}

// Patch is a partial Configuration update. Nil fields are left unchanged.
// APIKey, when set, is the raw (unencrypted) credential; the store validates
// and encrypts it before persisting.
type Patch struct {
	Provider          *string           `json:"provider,omitempty"`
	Model             *string           `json:"model,omitempty"`
	APIKey            *string           `json:"apiKey,omitempty"`
	BaseURL           *string           `json:"baseUrl,omitempty"`
	Temperature       *float64          `json:"temperature,omitempty"`
	MaxTokensGenerate *int              `json:"maxTokensGenerate,omitempty"`
	MaxTokensAnalyze  *int              `json:"maxTokensAnalyze,omitempty"`
	MaxTokensChat     *int              `json:"maxTokensChat,omitempty"`
	UsageLimit        *UsageLimit       `json:"usageLimit,omitempty"`
	RateLimit         *RateLimit        `json:"rateLimit,omitempty"`
	MonitoringEnabled *bool             `json:"monitoringEnabled,omitempty"`
	FallbackProviders []string          `json:"fallbackProviders,omitempty"`
	ContentFiltering  *ContentFiltering `json:"contentFiltering,omitempty"`
}

// UpdateConfig applies the patch to the current Configuration, validates the
// result, persists it, and swaps the cache atomically. On success it
// publishes a config.updated event and fires the onUpdated hook.
func (s *Store) UpdateConfig(ctx context.Context, patch Patch) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.cached
	if current == nil || s.now().Sub(s.fetchedAt) >= CacheTTL {
		cfg, err := resilient.Race(ctx, LoadDeadline, s.loadWithRetry)
		if err != nil {
			return nil, err
		}
		current = cfg
		s.cached = cfg
		s.fetchedAt = s.now()
	}

	next := current.clone()
	changed := applyPatch(next, patch)

	if patch.APIKey != nil {
		if err := vault.ValidateCredentialFormat(*patch.APIKey); err != nil {
			return nil, err
		}
		next.APIKey = s.vault.Encrypt(*patch.APIKey)
	}

	if err := s.validate(next); err != nil {
		return nil, err
	}

	doc, err := json.Marshal(next)
	if err != nil {
		return nil, &ConfigurationError{Reason: "encoding configuration", Err: err}
	}
	if err := s.persist.SaveConfigDocument(ctx, doc); err != nil {
		return nil, &ConfigurationError{Reason: "persisting configuration", Err: err}
	}

	s.cached = next
	s.fetchedAt = s.now()

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Topic:    events.TopicConfigUpdated,
			Provider: next.Provider,
			Detail:   map[string]any{"fields": changed},
		})
	}
	if s.onUpdated != nil {
		go s.onUpdated(next)
	}

	log.Info().Str("provider", next.Provider).Strs("fields", changed).Msg("configuration updated")
	return next, nil
}

// applyPatch copies set fields onto cfg and returns the names of the fields
// that were set. The apiKey field is recorded here but encrypted by the
// caller.
func applyPatch(cfg *Config, p Patch) []string {
	var changed []string
	set := func(name string) { changed = append(changed, name) }

	if p.Provider != nil {
		cfg.Provider = *p.Provider
		set("provider")
	}
	if p.Model != nil {
		cfg.Model = *p.Model
		set("model")
	}
	if p.APIKey != nil {
		set("apiKey")
	}
	if p.BaseURL != nil {
		cfg.BaseURL = *p.BaseURL
		set("baseUrl")
	}
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
		set("temperature")
	}
	if p.MaxTokensGenerate != nil {
		cfg.MaxTokensGenerate = *p.MaxTokensGenerate
		set("maxTokensGenerate")
	}
	if p.MaxTokensAnalyze != nil {
		cfg.MaxTokensAnalyze = *p.MaxTokensAnalyze
		set("maxTokensAnalyze")
	}
	if p.MaxTokensChat != nil {
		cfg.MaxTokensChat = *p.MaxTokensChat
		set("maxTokensChat")
	}
	if p.UsageLimit != nil {
		cfg.UsageLimit = *p.UsageLimit
		set("usageLimit")
	}
	if p.RateLimit != nil {
		cfg.RateLimit = *p.RateLimit
		set("rateLimit")
	}
	if p.MonitoringEnabled != nil {
		cfg.MonitoringEnabled = *p.MonitoringEnabled
		set("monitoringEnabled")
	}
	if p.FallbackProviders != nil {
		cfg.FallbackProviders = append([]string(nil), p.FallbackProviders...)
		set("fallbackProviders")
	}
	if p.ContentFiltering != nil {
		cfg.ContentFiltering = *p.ContentFiltering
		cfg.ContentFiltering.BlockedTopics = append([]string(nil), p.ContentFiltering.BlockedTopics...)
		set("contentFiltering")
	}
	return changed
}

// validate rejects configurations the gateway could not serve with.
func (s *Store) validate(cfg *Config) error {
	if s.reg != nil && !s.reg.Has(cfg.Provider) {
		return &ConfigurationError{Reason: "unknown provider " + cfg.Provider}
	}
	if cfg.Temperature < 0 || cfg.Temperature > 1 {
		return &ConfigurationError{Reason: "temperature must be between 0 and 1"}
	}
	if cfg.MaxTokensGenerate < 10 {
		return &ConfigurationError{Reason: "maxTokensGenerate must be at least 10"}
	}
	if s.reg != nil {
		for _, fb := range cfg.FallbackProviders {
			if !s.reg.Has(fb) {
				return &ConfigurationError{Reason: "unknown fallback provider " + fb}
			}
		}
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
