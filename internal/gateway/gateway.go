// Package gateway is the façade the rest of the system calls for AI
// capabilities. It resolves the active configuration, decrypts the
// credential, picks a provider through the failover selector, runs the call
// under the resilience policies, normalizes the raw model output, and
// resolves token usage for telemetry. Callers never touch adapters directly.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/aiconfig"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/failover"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/resilient"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tracing"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
)

// modelCacheTTL is how long a provider's model list from testConnection is
// served without a fresh probe.
const modelCacheTTL = 5 * time.Minute

// UsageSink receives telemetry rows. *store.Store satisfies it.
type UsageSink interface {
	InsertUsage(ctx context.Context, r *store.UsageRecord) error
}

// HealthSink receives per-call outcomes. *health.Monitor satisfies it.
type HealthSink interface {
	Observe(providerName string, latency time.Duration, err error) health.Record
}

// BlockedContentError rejects a prompt before it reaches any provider.
type BlockedContentError struct {
	Topic string
}

func (e *BlockedContentError) Error() string {
	return "content filter: prompt touches blocked topic " + e.Topic
}

// Gateway orchestrates capability calls end to end.
type Gateway struct {
	cfg      *aiconfig.Store
	reg      *provider.Registry
	vault    *vault.Vault
	selector *failover.Selector
	monitor  HealthSink // nil disables health observation
	usage    UsageSink  // nil disables telemetry
	models   *lru.LRU[string, []string]

	now func() time.Time
}

// New wires a Gateway. monitor and usage may be nil.
func New(cfg *aiconfig.Store, reg *provider.Registry, v *vault.Vault, sel *failover.Selector, monitor HealthSink, usage UsageSink) *Gateway {
	return &Gateway{
		cfg:      cfg,
		reg:      reg,
		vault:    v,
		selector: sel,
		monitor:  monitor,
		usage:    usage,
		models:   lru.NewLRU[string, []string](16, nil, modelCacheTTL),
		now:      time.Now,
	}
}

// callMeta is what dispatch resolved for one capability call.
type callMeta struct {
	Provider string
	Model    string
	Usage    tokenest.Usage
	Latency  time.Duration
}

// capability invokes one adapter method with the resolved credential and
// options.
type capability func(ctx context.Context, a provider.Adapter, cred provider.Credential, opts provider.CallOptions) (*provider.RawResponse, error)

// dispatch runs the shared pipeline: config, content filter, provider
// selection, resilient execution, health observation, usage resolution.
// inputText is the caller-visible request text, used for filtering and for
// usage estimation when the provider reports none.
func (g *Gateway) dispatch(ctx context.Context, feature, inputText string, call capability) (*provider.RawResponse, callMeta, error) {
	var meta callMeta

	cfg, err := g.cfg.GetConfig(ctx)
	if err != nil {
		return nil, meta, err
	}
	if err := precheck(cfg, inputText); err != nil {
		return nil, meta, err
	}

	chosen := g.selector.Select(cfg.Provider, cfg.FallbackProviders)
	adapter := g.reg.Lookup(chosen)

	cred := provider.Credential{APIKey: g.vault.Decrypt(cfg.APIKey)}
	opts := provider.CallOptions{
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokensFor(feature),
	}
	// The configured model and base URL belong to the configured provider;
	// a fallback adapter runs with its own defaults.
	if strings.EqualFold(chosen, cfg.Provider) {
		cred.BaseURL = cfg.BaseURL
		opts.Model = cfg.Model
	}
	if opts.Model == "" {
		opts.Model = adapter.DefaultModel()
	}
	meta.Provider = chosen
	meta.Model = opts.Model

	ctx, span := tracing.StartCapabilitySpan(ctx, feature, chosen)
	defer span.End()

	policy, deadline := resilient.For(adapter.Local())
	start := g.now()
	raw, err := resilient.Execute(ctx, policy, deadline, chosen,
		func(ctx context.Context) (*provider.RawResponse, error) {
			return call(ctx, adapter, cred, opts)
		})
	meta.Latency = g.now().Sub(start)

	if g.monitor != nil {
		g.monitor.Observe(chosen, meta.Latency, err)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, meta, err
	}

	if raw.Model != "" {
		meta.Model = raw.Model
	}
	meta.Usage = resolveUsage(raw, inputText)
	tracing.SetUsageAttributes(ctx, meta.Usage.PromptTokens, meta.Usage.CompletionTokens, meta.Usage.Estimated)
	g.recordUsage(feature, meta)

	return raw, meta, nil
}

// resolveUsage uses the provider's reported counts verbatim and estimates
// from the request text only when the provider reported nothing.
func resolveUsage(raw *provider.RawResponse, inputText string) tokenest.Usage {
	if raw.Usage != nil {
		return tokenest.FromReported(raw.Usage.PromptTokens, raw.Usage.CompletionTokens, raw.Usage.TotalTokens)
	}
	return tokenest.Estimate(inputText)
}

// recordUsage persists a telemetry row without blocking the response path.
// Failures are logged and dropped; usage accounting never fails a call.
func (g *Gateway) recordUsage(feature string, meta callMeta) {
	if g.usage == nil {
		return
	}
	rec := &store.UsageRecord{
		ID:               uuid.NewString(),
		Provider:         meta.Provider,
		Model:            meta.Model,
		Feature:          feature,
		PromptTokens:     meta.Usage.PromptTokens,
		CompletionTokens: meta.Usage.CompletionTokens,
		TotalTokens:      meta.Usage.TotalTokens,
		Estimated:        meta.Usage.Estimated,
		LatencyMs:        meta.Latency.Milliseconds(),
		CreatedAt:        g.now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.usage.InsertUsage(ctx, rec); err != nil {
			log.Warn().Err(err).Str("feature", feature).Msg("usage record dropped")
		}
	}()
}

// precheck applies the configured content filter to the request text before
// anything is sent upstream. Matching is a case-insensitive substring check.
func precheck(cfg *aiconfig.Config, inputText string) error {
	if !cfg.ContentFiltering.Enabled {
		return nil
	}
	lower := strings.ToLower(inputText)
	for _, topic := range cfg.ContentFiltering.BlockedTopics {
		if topic == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(topic)) {
			return &BlockedContentError{Topic: topic}
		}
	}
	return nil
}

// ProbeProvider is the health monitor's probe hook: a testConnection against
// the named provider with the active credential. The model list is not
// cached here; probes should observe the real round trip.
func (g *Gateway) ProbeProvider(ctx context.Context, providerName string) (time.Duration, error) {
	cfg, err := g.cfg.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	adapter := g.reg.Lookup(providerName)
	cred := provider.Credential{APIKey: g.vault.Decrypt(cfg.APIKey)}
	if strings.EqualFold(providerName, cfg.Provider) {
		cred.BaseURL = cfg.BaseURL
	}

	ctx, span := tracing.StartProbeSpan(ctx, providerName)
	defer span.End()

	start := time.Now()
	_, err = adapter.TestConnection(ctx, cred)
	return time.Since(start), err
}
