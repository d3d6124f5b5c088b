package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Topics published by the gateway core. External collaborators (telemetry,
// UI broadcast, audit log) subscribe through the Bus; the core never depends
// on the concrete transport.
const (
	TopicConfigUpdated    = "config.updated"
	TopicHealthUpdated    = "health.updated"
	TopicProviderFallback = "provider.fallback"
)

// Event is a single outbound notification from the gateway core.
type Event struct {
	Topic     string         `json:"topic"`
	Provider  string         `json:"provider"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block for long.
type Handler func(Event)

// Bus is an in-process pub/sub dispatcher for gateway events. Subscribing
// with an empty topic receives every event.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for the given topic. An empty topic
// subscribes to all events.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// Publish delivers the event to all handlers registered for its topic and
// to wildcard subscribers. A panicking handler is recovered and logged so a
// misbehaving subscriber cannot take down the publisher.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Topic])+len(b.handlers[""]))
	hs = append(hs, b.handlers[ev.Topic]...)
	hs = append(hs, b.handlers[""]...)
	b.mu.RUnlock()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("topic", ev.Topic).Msg("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// LogSink returns a handler that writes every event to the structured log.
// It is the default subscriber wired in at daemon startup.
func LogSink() Handler {
	return func(ev Event) {
		log.Info().
			Str("topic", ev.Topic).
			Str("provider", ev.Provider).
			Interface("detail", ev.Detail).
			Msg("gateway event")
	}
}
