// Package provider defines the capability contract implemented by every LLM
// provider family and the registry that maps provider identifiers to
// adapters. Adapters are stateless beyond their default model id; the
// credential and base URL arrive with every call so a configuration change
// never requires rebuilding an adapter.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Credential carries the per-call connection parameters resolved from the
// active configuration. APIKey is already decrypted.
type Credential struct {
	APIKey  string
	BaseURL string
}

// CallOptions are the tuning knobs shared by every capability call.
type CallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// GenerateRequest asks for code generation from a natural-language prompt.
type GenerateRequest struct {
	Prompt   string
	Language string
	Context  string // optional surrounding code
	Options  CallOptions
}

// AnalyzeRequest asks for a quality review of the given code.
type AnalyzeRequest struct {
	Code     string
	Language string
	Options  CallOptions
}

// OptimizeRequest asks for an improved version of the given code.
type OptimizeRequest struct {
	Code     string
	Language string
	Goals    []string // e.g. "performance", "readability"
	Options  CallOptions
}

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries a conversation to the assistant.
type ChatRequest struct {
	Messages []ChatMessage
	Options  CallOptions
}

// ReportedUsage is the token accounting a provider includes in its response.
// Absent usage is represented by a nil pointer on RawResponse, which tells
// the gateway to estimate instead.
type ReportedUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// RawResponse is the provider-agnostic envelope every adapter returns. Text
// is the model output verbatim; the normalizer owns all further structure.
type RawResponse struct {
	Text  string
	Model string
	Usage *ReportedUsage
}

// ConnectionInfo is the result of a testConnection probe.
type ConnectionInfo struct {
	Models  []string
	Latency time.Duration
	Quota   string // provider-reported quota/limit header, if any
}

// Adapter is the capability set every provider family implements.
type Adapter interface {
	// Name is the canonical provider identifier (lowercase).
	Name() string
	// DefaultModel is used when a call does not pin a model.
	DefaultModel() string
	// Local reports whether the provider is locally hosted. Local providers
	// get longer deadlines and a linear retry policy since they are
	// compute-bound rather than network-bound.
	Local() bool

	GenerateCode(ctx context.Context, cred Credential, req GenerateRequest) (*RawResponse, error)
	AnalyzeCode(ctx context.Context, cred Credential, req AnalyzeRequest) (*RawResponse, error)
	OptimizeCode(ctx context.Context, cred Credential, req OptimizeRequest) (*RawResponse, error)
	Chat(ctx context.Context, cred Credential, req ChatRequest) (*RawResponse, error)
	TestConnection(ctx context.Context, cred Credential) (*ConnectionInfo, error)
	CountTokens(model, text string) int
}

// UpstreamError is a provider-reported failure. Retryable mirrors the
// executor's policy: rate limiting and server-side errors may succeed on a
// later attempt, anything else propagates immediately.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: status %d code %q: %s", e.Provider, e.StatusCode, e.Code, e.Message)
}

// IsRetryableStatus reports whether an HTTP status indicates a transient
// upstream condition: 429 or any 5xx.
func IsRetryableStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}
