package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

const anthropicVersion = "2023-06-01"

// anthropicAdapter implements the capability set against the Anthropic
// Messages API. It is registered under both "claude" and "anthropic".
type anthropicAdapter struct {
	defaultModel string
	counter      *tokenest.Counter
	client       httpDoer
}

// NewAnthropic creates the Claude adapter.
func NewAnthropic(counter *tokenest.Counter) Adapter {
	return &anthropicAdapter{
		defaultModel: "claude-3-5-sonnet-20241022",
		counter:      counter,
		client:       sharedClient,
	}
}

func (a *anthropicAdapter) Name() string         { return "anthropic" }
func (a *anthropicAdapter) DefaultModel() string { return a.defaultModel }
func (a *anthropicAdapter) Local() bool          { return false }

func (a *anthropicAdapter) CountTokens(model, text string) int {
	if model == "" {
		model = a.defaultModel
	}
	return a.counter.Count(model, text)
}

func (a *anthropicAdapter) base(cred Credential) string {
	if cred.BaseURL != "" {
		return cred.BaseURL
	}
	return "https://api.anthropic.com/v1"
}

func (a *anthropicAdapter) headers(cred Credential) map[string]string {
	return map[string]string{
		"x-api-key":         cred.APIKey,
		"anthropic-version": anthropicVersion,
	}
}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// complete runs one Messages API round trip. The Messages API carries the
// system prompt as a top-level field, so system turns are lifted out of the
// message list.
func (a *anthropicAdapter) complete(ctx context.Context, cred Credential, messages []ChatMessage, opts CallOptions) (*RawResponse, error) {
	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	var system string
	turns := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, m)
	}

	payload := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    turns,
		Temperature: opts.Temperature,
	}

	var resp anthropicResponse
	err := doJSON(ctx, a.client, "anthropic", http.MethodPost, a.base(cred)+"/messages",
		a.headers(cred), payload, &resp)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, c := range resp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &UpstreamError{
			Provider:   "anthropic",
			StatusCode: http.StatusOK,
			Code:       "empty_content",
			Message:    "response contained no text content",
		}
	}

	raw := &RawResponse{
		Text:  text.String(),
		Model: resp.Model,
	}
	if resp.Usage != nil {
		raw.Usage = &ReportedUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return raw, nil
}

func (a *anthropicAdapter) GenerateCode(ctx context.Context, cred Credential, req GenerateRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, generateMessages(req), req.Options)
}

func (a *anthropicAdapter) AnalyzeCode(ctx context.Context, cred Credential, req AnalyzeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, analyzeMessages(req), req.Options)
}

func (a *anthropicAdapter) OptimizeCode(ctx context.Context, cred Credential, req OptimizeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, optimizeMessages(req), req.Options)
}

func (a *anthropicAdapter) Chat(ctx context.Context, cred Credential, req ChatRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, chatMessages(req), req.Options)
}

func (a *anthropicAdapter) TestConnection(ctx context.Context, cred Credential) (*ConnectionInfo, error) {
	start := time.Now()
	var resp modelListResponse
	err := doJSON(ctx, a.client, "anthropic", http.MethodGet, a.base(cred)+"/models",
		a.headers(cred), nil, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, m.ID)
	}
	return &ConnectionInfo{
		Models:  models,
		Latency: time.Since(start),
	}, nil
}
