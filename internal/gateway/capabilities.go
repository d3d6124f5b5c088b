package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/normalize"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

// GenerateResult is the caller-facing shape of a code-generation call.
type GenerateResult struct {
	normalize.Generation
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Usage    tokenest.Usage `json:"usage"`
}

// AnalyzeResult is the caller-facing shape of a code-analysis call.
type AnalyzeResult struct {
	normalize.Analysis
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Usage    tokenest.Usage `json:"usage"`
}

// OptimizeResult is the caller-facing shape of a code-optimization call.
type OptimizeResult struct {
	normalize.Optimization
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	Usage    tokenest.Usage `json:"usage"`
}

// ChatResult is one assistant reply. ConversationID echoes the request's id,
// or a freshly minted one for a new conversation.
type ChatResult struct {
	Reply          string         `json:"reply"`
	ConversationID string         `json:"conversationId"`
	Provider       string         `json:"provider"`
	Model          string         `json:"model"`
	Usage          tokenest.Usage `json:"usage"`
}

// ChatInput is a conversation turn submitted to the gateway.
type ChatInput struct {
	ConversationID string                 `json:"conversationId"`
	Messages       []provider.ChatMessage `json:"messages"`
}

// ConnectionResult reports a testConnection probe.
type ConnectionResult struct {
	Provider string        `json:"provider"`
	Models   []string      `json:"models"`
	Latency  time.Duration `json:"latency"`
	Quota    string        `json:"quota,omitempty"`
	Cached   bool          `json:"cached"`
}

// GenerateCode produces code for a natural-language prompt.
func (g *Gateway) GenerateCode(ctx context.Context, req provider.GenerateRequest) (*GenerateResult, error) {
	input := req.Prompt + "\n" + req.Context
	raw, meta, err := g.dispatch(ctx, "generate", input,
		func(ctx context.Context, a provider.Adapter, cred provider.Credential, opts provider.CallOptions) (*provider.RawResponse, error) {
			req.Options = opts
			return a.GenerateCode(ctx, cred, req)
		})
	if err != nil {
		return nil, err
	}

	gen, err := normalize.ExtractGeneration(raw.Text)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Generation: *gen,
		Provider:   meta.Provider,
		Model:      meta.Model,
		Usage:      meta.Usage,
	}, nil
}

// AnalyzeCode reviews code quality and returns a scored report.
func (g *Gateway) AnalyzeCode(ctx context.Context, req provider.AnalyzeRequest) (*AnalyzeResult, error) {
	raw, meta, err := g.dispatch(ctx, "analyze", req.Code,
		func(ctx context.Context, a provider.Adapter, cred provider.Credential, opts provider.CallOptions) (*provider.RawResponse, error) {
			req.Options = opts
			return a.AnalyzeCode(ctx, cred, req)
		})
	if err != nil {
		return nil, err
	}

	analysis, err := normalize.ExtractAnalysis(raw.Text)
	if err != nil {
		return nil, err
	}
	return &AnalyzeResult{
		Analysis: *analysis,
		Provider: meta.Provider,
		Model:    meta.Model,
		Usage:    meta.Usage,
	}, nil
}

// OptimizeCode returns an improved version of the given code.
func (g *Gateway) OptimizeCode(ctx context.Context, req provider.OptimizeRequest) (*OptimizeResult, error) {
	raw, meta, err := g.dispatch(ctx, "optimize", req.Code,
		func(ctx context.Context, a provider.Adapter, cred provider.Credential, opts provider.CallOptions) (*provider.RawResponse, error) {
			req.Options = opts
			return a.OptimizeCode(ctx, cred, req)
		})
	if err != nil {
		return nil, err
	}

	opt, err := normalize.ExtractOptimization(raw.Text)
	if err != nil {
		return nil, err
	}
	return &OptimizeResult{
		Optimization: *opt,
		Provider:     meta.Provider,
		Model:        meta.Model,
		Usage:        meta.Usage,
	}, nil
}

// Chat sends a conversation turn and returns the assistant reply. The raw
// model text is the reply; chat has no structured extraction stage.
func (g *Gateway) Chat(ctx context.Context, input ChatInput) (*ChatResult, error) {
	conversationID := input.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	raw, meta, err := g.dispatch(ctx, "chat", provider.PromptText(input.Messages),
		func(ctx context.Context, a provider.Adapter, cred provider.Credential, opts provider.CallOptions) (*provider.RawResponse, error) {
			return a.Chat(ctx, cred, provider.ChatRequest{Messages: input.Messages, Options: opts})
		})
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Reply:          raw.Text,
		ConversationID: conversationID,
		Provider:       meta.Provider,
		Model:          meta.Model,
		Usage:          meta.Usage,
	}, nil
}

// TokenCountResult reports how many tokens a text occupies under a
// provider's tokenizer.
type TokenCountResult struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Tokens   int    `json:"tokens"`
}

// CountTokens counts text with the named provider's tokenizer. An empty
// provider means the configured one; an empty model resolves the same way
// dispatch does.
func (g *Gateway) CountTokens(ctx context.Context, providerName, model, text string) (*TokenCountResult, error) {
	cfg, err := g.cfg.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if providerName == "" {
		providerName = cfg.Provider
	}
	adapter := g.reg.Lookup(providerName)
	if model == "" {
		if strings.EqualFold(adapter.Name(), cfg.Provider) {
			model = cfg.Model
		}
		if model == "" {
			model = adapter.DefaultModel()
		}
	}
	return &TokenCountResult{
		Provider: adapter.Name(),
		Model:    model,
		Tokens:   adapter.CountTokens(model, text),
	}, nil
}

// TestConnection probes the named provider (or the configured one when name
// is empty) and returns its model list. Model lists are cached briefly so a
// UI polling the settings page does not hammer the provider.
func (g *Gateway) TestConnection(ctx context.Context, providerName string) (*ConnectionResult, error) {
	cfg, err := g.cfg.GetConfig(ctx)
	if err != nil {
		return nil, err
	}
	if providerName == "" {
		providerName = cfg.Provider
	}
	adapter := g.reg.Lookup(providerName)
	name := adapter.Name()

	if models, ok := g.models.Get(name); ok {
		return &ConnectionResult{Provider: name, Models: models, Cached: true}, nil
	}

	cred := provider.Credential{APIKey: g.vault.Decrypt(cfg.APIKey)}
	if strings.EqualFold(providerName, cfg.Provider) {
		cred.BaseURL = cfg.BaseURL
	}

	start := g.now()
	info, err := adapter.TestConnection(ctx, cred)
	latency := g.now().Sub(start)
	if g.monitor != nil {
		g.monitor.Observe(name, latency, err)
	}
	if err != nil {
		return nil, err
	}

	g.models.Add(name, info.Models)
	return &ConnectionResult{
		Provider: name,
		Models:   info.Models,
		Latency:  latency,
		Quota:    info.Quota,
	}, nil
}
