package failover

import (
	"testing"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
)

func statuses(m map[string]health.Status) StatusFunc {
	return func(name string) health.Status {
		if st, ok := m[name]; ok {
			return st
		}
		return health.StatusUnknown
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name      string
		health    map[string]health.Status
		primary   string
		fallbacks []string
		want      string
	}{
		{
			name:    "healthy primary wins",
			health:  map[string]health.Status{"openai": health.StatusUp, "deepseek": health.StatusUp},
			primary: "openai", fallbacks: []string{"deepseek"},
			want: "openai",
		},
		{
			name:    "degraded primary still serves",
			health:  map[string]health.Status{"openai": health.StatusDegraded, "deepseek": health.StatusUp},
			primary: "openai", fallbacks: []string{"deepseek"},
			want: "openai",
		},
		{
			name:    "down primary skipped",
			health:  map[string]health.Status{"openai": health.StatusDown, "deepseek": health.StatusUp},
			primary: "openai", fallbacks: []string{"deepseek"},
			want: "deepseek",
		},
		{
			name: "declared order walked to first usable",
			health: map[string]health.Status{
				"openai": health.StatusDown, "deepseek": health.StatusDown, "ollama": health.StatusUp,
			},
			primary: "openai", fallbacks: []string{"deepseek", "ollama"},
			want: "ollama",
		},
		{
			name:    "unknown counts as usable",
			health:  map[string]health.Status{"openai": health.StatusDown},
			primary: "openai", fallbacks: []string{"anthropic"},
			want: "anthropic",
		},
		{
			name: "all down falls back to primary",
			health: map[string]health.Status{
				"openai": health.StatusDown, "deepseek": health.StatusDown, "ollama": health.StatusDown,
			},
			primary: "openai", fallbacks: []string{"deepseek", "ollama"},
			want: "openai",
		},
		{
			name:    "no fallbacks configured",
			health:  map[string]health.Status{"openai": health.StatusDown},
			primary: "openai", fallbacks: nil,
			want: "openai",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSelector(statuses(tt.health), nil)
			if got := s.Select(tt.primary, tt.fallbacks); got != tt.want {
				t.Errorf("Select = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSelect_PublishesFallbackEvent(t *testing.T) {
	bus := events.NewBus()
	var got []events.Event
	bus.Subscribe(events.TopicProviderFallback, func(ev events.Event) { got = append(got, ev) })

	s := NewSelector(statuses(map[string]health.Status{
		"openai":   health.StatusDown,
		"deepseek": health.StatusUp,
	}), bus)

	if chosen := s.Select("openai", []string{"deepseek"}); chosen != "deepseek" {
		t.Fatalf("Select = %q", chosen)
	}
	if len(got) != 1 {
		t.Fatalf("events = %d, want 1", len(got))
	}
	if got[0].Provider != "deepseek" || got[0].Detail["primary"] != "openai" {
		t.Errorf("event = %+v", got[0])
	}

	// Serving the primary publishes nothing.
	got = got[:0]
	s2 := NewSelector(statuses(map[string]health.Status{"openai": health.StatusUp}), bus)
	s2.Select("openai", []string{"deepseek"})
	if len(got) != 0 {
		t.Errorf("unexpected fallback event for healthy primary")
	}
}
