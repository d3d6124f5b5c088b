// Package metrics aggregates gateway counters and serves them in Prometheus
// text exposition format. The collector learns about traffic two ways: it
// sits in the usage-record chain between the gateway and the store, and it
// subscribes to the event bus for fallback and health transitions. No
// client library; the format is a handful of counters and writing them by
// hand keeps the daemon's dependency surface flat.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
)

// UsageSink matches the gateway's telemetry consumer so the collector can
// decorate the store.
type UsageSink interface {
	InsertUsage(ctx context.Context, r *store.UsageRecord) error
}

type providerStats struct {
	requests  int64
	tokens    int64
	estimated int64
	latencyMs int64
}

// Collector accumulates counters. All methods are safe for concurrent use.
type Collector struct {
	mu                sync.Mutex
	byFeature         map[string]int64
	byProvider        map[string]*providerStats
	fallbacks         int64
	healthTransitions int64
	configUpdates     int64

	next UsageSink // nil means counters only
}

// NewCollector creates a collector that forwards usage records to next after
// counting them. next may be nil.
func NewCollector(next UsageSink) *Collector {
	return &Collector{
		byFeature:  make(map[string]int64),
		byProvider: make(map[string]*providerStats),
		next:       next,
	}
}

// InsertUsage counts the record and forwards it down the chain.
func (c *Collector) InsertUsage(ctx context.Context, r *store.UsageRecord) error {
	c.mu.Lock()
	c.byFeature[r.Feature]++
	ps, ok := c.byProvider[r.Provider]
	if !ok {
		ps = &providerStats{}
		c.byProvider[r.Provider] = ps
	}
	ps.requests++
	ps.tokens += int64(r.TotalTokens)
	ps.latencyMs += r.LatencyMs
	if r.Estimated {
		ps.estimated++
	}
	c.mu.Unlock()

	if c.next == nil {
		return nil
	}
	return c.next.InsertUsage(ctx, r)
}

// Subscribe wires the collector to gateway events.
func (c *Collector) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.TopicProviderFallback, func(events.Event) {
		c.mu.Lock()
		c.fallbacks++
		c.mu.Unlock()
	})
	bus.Subscribe(events.TopicHealthUpdated, func(events.Event) {
		c.mu.Lock()
		c.healthTransitions++
		c.mu.Unlock()
	})
	bus.Subscribe(events.TopicConfigUpdated, func(events.Event) {
		c.mu.Lock()
		c.configUpdates++
		c.mu.Unlock()
	})
}

// Handler serves the counters in Prometheus text format.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.write(w)
	}
}

func (c *Collector) write(w http.ResponseWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "# HELP aigateway_requests_total Capability calls completed, by feature.")
	fmt.Fprintln(w, "# TYPE aigateway_requests_total counter")
	for _, feature := range sortedKeys(c.byFeature) {
		fmt.Fprintf(w, "aigateway_requests_total{feature=%q} %d\n", feature, c.byFeature[feature])
	}

	fmt.Fprintln(w, "# HELP aigateway_provider_requests_total Capability calls completed, by provider.")
	fmt.Fprintln(w, "# TYPE aigateway_provider_requests_total counter")
	providers := make([]string, 0, len(c.byProvider))
	for p := range c.byProvider {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		fmt.Fprintf(w, "aigateway_provider_requests_total{provider=%q} %d\n", p, c.byProvider[p].requests)
	}

	fmt.Fprintln(w, "# HELP aigateway_tokens_total Total tokens consumed, by provider.")
	fmt.Fprintln(w, "# TYPE aigateway_tokens_total counter")
	for _, p := range providers {
		fmt.Fprintf(w, "aigateway_tokens_total{provider=%q} %d\n", p, c.byProvider[p].tokens)
	}

	fmt.Fprintln(w, "# HELP aigateway_estimated_usage_total Calls whose token usage was estimated, by provider.")
	fmt.Fprintln(w, "# TYPE aigateway_estimated_usage_total counter")
	for _, p := range providers {
		fmt.Fprintf(w, "aigateway_estimated_usage_total{provider=%q} %d\n", p, c.byProvider[p].estimated)
	}

	fmt.Fprintln(w, "# HELP aigateway_latency_ms_total Summed call latency in milliseconds, by provider.")
	fmt.Fprintln(w, "# TYPE aigateway_latency_ms_total counter")
	for _, p := range providers {
		fmt.Fprintf(w, "aigateway_latency_ms_total{provider=%q} %d\n", p, c.byProvider[p].latencyMs)
	}

	fmt.Fprintln(w, "# HELP aigateway_fallbacks_total Calls served by a fallback provider.")
	fmt.Fprintln(w, "# TYPE aigateway_fallbacks_total counter")
	fmt.Fprintf(w, "aigateway_fallbacks_total %d\n", c.fallbacks)

	fmt.Fprintln(w, "# HELP aigateway_health_transitions_total Provider health classification changes.")
	fmt.Fprintln(w, "# TYPE aigateway_health_transitions_total counter")
	fmt.Fprintf(w, "aigateway_health_transitions_total %d\n", c.healthTransitions)

	fmt.Fprintln(w, "# HELP aigateway_config_updates_total Configuration updates applied.")
	fmt.Fprintln(w, "# TYPE aigateway_config_updates_total counter")
	fmt.Fprintf(w, "aigateway_config_updates_total %d\n", c.configUpdates)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
