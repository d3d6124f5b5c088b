package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

// openAICompat implements the capability set against the OpenAI
// chat-completions wire format. DeepSeek exposes the same surface, so both
// providers share this adapter with different identity and defaults.
type openAICompat struct {
	name         string
	baseURL      string
	defaultModel string
	counter      *tokenest.Counter
	client       httpDoer
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(counter *tokenest.Counter) Adapter {
	return &openAICompat{
		name:         "openai",
		baseURL:      "https://api.openai.com/v1",
		defaultModel: "gpt-4o",
		counter:      counter,
		client:       sharedClient,
	}
}

// NewDeepSeek creates the DeepSeek adapter.
func NewDeepSeek(counter *tokenest.Counter) Adapter {
	return &openAICompat{
		name:         "deepseek",
		baseURL:      "https://api.deepseek.com/v1",
		defaultModel: "deepseek-chat",
		counter:      counter,
		client:       sharedClient,
	}
}

func (a *openAICompat) Name() string         { return a.name }
func (a *openAICompat) DefaultModel() string { return a.defaultModel }
func (a *openAICompat) Local() bool          { return false }

func (a *openAICompat) CountTokens(model, text string) int {
	if model == "" {
		model = a.defaultModel
	}
	return a.counter.Count(model, text)
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// complete runs one chat-completions round trip.
func (a *openAICompat) complete(ctx context.Context, cred Credential, messages []ChatMessage, opts CallOptions) (*RawResponse, error) {
	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}

	payload := chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}

	var resp chatCompletionResponse
	err := doJSON(ctx, a.client, a.name, http.MethodPost, a.base(cred)+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + cred.APIKey}, payload, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, &UpstreamError{
			Provider:   a.name,
			StatusCode: http.StatusOK,
			Code:       "empty_choices",
			Message:    "response contained no choices",
		}
	}

	raw := &RawResponse{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}
	if resp.Usage != nil {
		raw.Usage = &ReportedUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return raw, nil
}

func (a *openAICompat) base(cred Credential) string {
	if cred.BaseURL != "" {
		return cred.BaseURL
	}
	return a.baseURL
}

func (a *openAICompat) GenerateCode(ctx context.Context, cred Credential, req GenerateRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, generateMessages(req), req.Options)
}

func (a *openAICompat) AnalyzeCode(ctx context.Context, cred Credential, req AnalyzeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, analyzeMessages(req), req.Options)
}

func (a *openAICompat) OptimizeCode(ctx context.Context, cred Credential, req OptimizeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, optimizeMessages(req), req.Options)
}

func (a *openAICompat) Chat(ctx context.Context, cred Credential, req ChatRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, chatMessages(req), req.Options)
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *openAICompat) TestConnection(ctx context.Context, cred Credential) (*ConnectionInfo, error) {
	start := time.Now()
	var resp modelListResponse
	err := doJSON(ctx, a.client, a.name, http.MethodGet, a.base(cred)+"/models",
		map[string]string{"Authorization": "Bearer " + cred.APIKey}, nil, &resp)
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
