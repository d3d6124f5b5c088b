package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

// ollamaAdapter targets a locally-hosted Ollama instance. Local() returns
// true, which buys the adapter the longer 60 s deadline and linear backoff
// in the executor: a busy local GPU recovers differently than a congested
// network path.
type ollamaAdapter struct {
	defaultModel string
	counter      *tokenest.Counter
	client       httpDoer
}

// NewOllama creates the local-model adapter.
func NewOllama(counter *tokenest.Counter) Adapter {
	return &ollamaAdapter{
		defaultModel: "codellama",
		counter:      counter,
		client:       sharedClient,
	}
}

func (a *ollamaAdapter) Name() string         { return "ollama" }
func (a *ollamaAdapter) DefaultModel() string { return a.defaultModel }
func (a *ollamaAdapter) Local() bool          { return true }

func (a *ollamaAdapter) CountTokens(model, text string) int {
	if model == "" {
		model = a.defaultModel
	}
	return a.counter.Count(model, text)
}

func (a *ollamaAdapter) base(cred Credential) string {
	if cred.BaseURL != "" {
		return cred.BaseURL
	}
	return "http://localhost:11434"
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict,omitempty"`
	} `json:"options"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

func (a *ollamaAdapter) complete(ctx context.Context, cred Credential, messages []ChatMessage, opts CallOptions) (*RawResponse, error) {
	model := opts.Model
	if model == "" {
		model = a.defaultModel
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	}
	payload.Options.Temperature = opts.Temperature
	payload.Options.NumPredict = opts.MaxTokens

	var resp ollamaChatResponse
	err := doJSON(ctx, a.client, "ollama", http.MethodPost, a.base(cred)+"/api/chat", nil, payload, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Message.Content == "" {
		return nil, &UpstreamError{
			Provider:   "ollama",
			StatusCode: http.StatusOK,
			Code:       "empty_message",
			Message:    "response contained no message content",
		}
	}

	raw := &RawResponse{
		Text:  resp.Message.Content,
		Model: resp.Model,
	}
	// Ollama reports eval counts instead of a usage object; zero counts mean
	// the server omitted them and the gateway should estimate.
	if resp.PromptEvalCount > 0 || resp.EvalCount > 0 {
		raw.Usage = &ReportedUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		}
	}
	return raw, nil
}

func (a *ollamaAdapter) GenerateCode(ctx context.Context, cred Credential, req GenerateRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, generateMessages(req), req.Options)
}

func (a *ollamaAdapter) AnalyzeCode(ctx context.Context, cred Credential, req AnalyzeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, analyzeMessages(req), req.Options)
}

func (a *ollamaAdapter) OptimizeCode(ctx context.Context, cred Credential, req OptimizeRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, optimizeMessages(req), req.Options)
}

func (a *ollamaAdapter) Chat(ctx context.Context, cred Credential, req ChatRequest) (*RawResponse, error) {
	return a.complete(ctx, cred, chatMessages(req), req.Options)
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (a *ollamaAdapter) TestConnection(ctx context.Context, cred Credential) (*ConnectionInfo, error) {
	start := time.Now()
	var resp ollamaTagsResponse
	err := doJSON(ctx, a.client, "ollama", http.MethodGet, a.base(cred)+"/api/tags", nil, nil, &resp)
	if err != nil {
		return nil, err
	}

	models := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, m.Name)
	}
	return &ConnectionInfo{
		Models:  models,
		Latency: time.Since(start),
	}, nil
}
