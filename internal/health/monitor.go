// Package health tracks per-provider availability. A background loop probes
// every registered provider on startup and on a fixed interval; live call
// outcomes feed the same records through Observe, so the picture stays
// current between probes without ever blocking a capability call.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
)

// Status classifies a provider's last known condition.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	// StatusUnknown means never probed. The failover selector treats unknown
	// as usable so a cold start does not lock out every provider.
	StatusUnknown Status = "unknown"
)

const (
	// ProbeInterval is the period of the background check loop.
	ProbeInterval = 10 * time.Minute

	// DegradedThreshold is the latency above which a succeeding provider is
	// classified degraded rather than up.
	DegradedThreshold = 2000 * time.Millisecond

	// probeTimeout bounds a single connectivity probe.
	probeTimeout = 10 * time.Second
)

// Record is the last observation for one provider.
type Record struct {
	Status    Status        `json:"status"`
	LastCheck time.Time     `json:"lastCheck"`
	Latency   time.Duration `json:"latency"`
}

// ProbeFunc performs a connectivity check for the named provider and
// reports the observed latency. The gateway wires this to the adapter's
// TestConnection with the configured credential.
type ProbeFunc func(ctx context.Context, providerName string) (time.Duration, error)

// Monitor owns the health records and the background probe loop.
type Monitor struct {
	providers []string
	probe     ProbeFunc
	bus       *events.Bus
	interval  time.Duration
	now       func() time.Time

	mu      sync.RWMutex
	records map[string]Record

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor for the given provider names. bus may be nil.
func NewMonitor(providers []string, probe ProbeFunc, bus *events.Bus) *Monitor {
	return &Monitor{
		providers: append([]string(nil), providers...),
		probe:     probe,
		bus:       bus,
		interval:  ProbeInterval,
		now:       time.Now,
		records:   make(map[string]Record),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetInterval overrides the probe cadence. Call before Start.
func (m *Monitor) SetInterval(d time.Duration) {
	if d > 0 {
		m.interval = d
	}
}

// Start launches the probe loop: one immediate sweep, then one per interval.
// It returns without waiting for the first sweep to finish.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

// Stop ends the probe loop and waits for it to exit. Safe to call more than
// once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CheckAll(ctx)
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every provider once, sequentially.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, name := range m.providers {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		default:
		}
		m.CheckProvider(ctx, name)
	}
}

// CheckProvider probes one provider and records the classification.
func (m *Monitor) CheckProvider(ctx context.Context, name string) Record {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	latency, err := m.probe(probeCtx, name)
	return m.Observe(name, latency, err)
}

// Observe records one outcome for a provider, from a probe or a live call,
// and publishes a health.updated event when the classification changes.
func (m *Monitor) Observe(name string, latency time.Duration, err error) Record {
	rec := Record{
		Status:    classify(latency, err),
		LastCheck: m.now(),
		Latency:   latency,
	}

	m.mu.Lock()
	prev, seen := m.records[name]
	m.records[name] = rec
	m.mu.Unlock()

	if !seen || prev.Status != rec.Status {
		log.Info().
			Str("provider", name).
			Str("status", string(rec.Status)).
			Dur("latency", latency).
			Msg("provider health changed")
		if m.bus != nil {
			detail := map[string]any{
				"status":    string(rec.Status),
				"latencyMs": latency.Milliseconds(),
			}
			if seen {
				detail["previous"] = string(prev.Status)
			}
			m.bus.Publish(events.Event{
				Topic:    events.TopicHealthUpdated,
				Provider: name,
				Detail:   detail,
			})
		}
	}
	return rec
}

// StatusOf returns the last classification, or StatusUnknown when the
// provider has never been observed.
func (m *Monitor) StatusOf(name string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.records[name]; ok {
		return rec.Status
	}
	return StatusUnknown
}

// Snapshot returns a copy of all records.
func (m *Monitor) Snapshot() map[string]Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out
}

// classify maps one observation to a status. Any error means down,
// regardless of latency.
func classify(latency time.Duration, err error) Status {
	switch {
	case err != nil:
		return StatusDown
	case latency > DegradedThreshold:
		return StatusDegraded
	default:
		return StatusUp
	}
}
