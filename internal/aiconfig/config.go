// Package aiconfig owns the persisted AI-provider Configuration: a
// singleton document holding the active provider, model, encrypted
// credential, limits, and failover policy. The store caches the document
// with a TTL and swaps it atomically so concurrent readers never observe a
// partially-updated record.
package aiconfig

import (
	"fmt"
)

// Config is the live AI-provider configuration document. Instances handed
// out by the Store are shared and must be treated as immutable; all
// mutation goes through UpdateConfig.
type Config struct {
	Provider          string           `json:"provider"`
	Model             string           `json:"model"`
	APIKey            string           `json:"apiKey"` // "ivHex:cipherHex", or legacy plaintext
	BaseURL           string           `json:"baseUrl"`
	Temperature       float64          `json:"temperature"`
	MaxTokensGenerate int              `json:"maxTokensGenerate"`
	MaxTokensAnalyze  int              `json:"maxTokensAnalyze"`
	MaxTokensChat     int              `json:"maxTokensChat"`
	UsageLimit        UsageLimit       `json:"usageLimit"`
	RateLimit         RateLimit        `json:"rateLimit"`
	MonitoringEnabled bool             `json:"monitoringEnabled"`
	FallbackProviders []string         `json:"fallbackProviders"`
	ContentFiltering  ContentFiltering `json:"contentFiltering"`
}

// UsageLimit caps aggregate token consumption.
type UsageLimit struct {
	DailyTokenLimit int `json:"dailyTokenLimit"`
	UserTokenLimit  int `json:"userTokenLimit"`
}

// RateLimit caps request and token throughput.
type RateLimit struct {
	RequestsPerMinute int `json:"requestsPerMinute"`
	TokensPerHour     int `json:"tokensPerHour"`
}

// ContentFiltering is the policy the gateway applies before sending a
// prompt upstream.
type ContentFiltering struct {
	Enabled             bool     `json:"enabled"`
	BlockedTopics       []string `json:"blockedTopics"`
	MaxSensitivityLevel int      `json:"maxSensitivityLevel"`
}

// ConfigurationError covers both "no usable configuration" and validation
// failures on update.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MaxTokensFor returns the per-feature token limit.
func (c *Config) MaxTokensFor(feature string) int {
	switch feature {
	case "generate", "optimize":
		return c.MaxTokensGenerate
	case "analyze":
		return c.MaxTokensAnalyze
	case "chat":
		return c.MaxTokensChat
	default:
		return c.MaxTokensChat
	}
}

// clone returns a deep copy so patch application never mutates the cached
// document in place.
func (c *Config) clone() *Config {
	out := *c
	out.FallbackProviders = append([]string(nil), c.FallbackProviders...)
	out.ContentFiltering.BlockedTopics = append([]string(nil), c.ContentFiltering.BlockedTopics...)
	return &out
}

// CredentialEnv is the environment variable supplying the bootstrap API key
// for the synthesized first-run configuration.
const CredentialEnv = "AI_GATEWAY_API_KEY"

// defaultConfig builds the first-run configuration document around an
// already-encrypted credential.
func defaultConfig(encryptedKey string) *Config {
	return &Config{
		Provider:          "openai",
		Model:             "gpt-4o",
		APIKey:            encryptedKey,
		BaseURL:           "https://api.openai.com/v1",
		Temperature:       0.7,
		MaxTokensGenerate: 2048,
		MaxTokensAnalyze:  2048,
		MaxTokensChat:     1024,
		UsageLimit: UsageLimit{
			DailyTokenLimit: 100000,
			UserTokenLimit:  10000,
		},
		RateLimit: RateLimit{
			RequestsPerMinute: 60,
			TokensPerHour:     50000,
		},
		MonitoringEnabled: true,
		FallbackProviders: []string{},
		ContentFiltering: ContentFiltering{
			Enabled:             false,
			BlockedTopics:       []string{},
			MaxSensitivityLevel: 2,
		},
	}
}
