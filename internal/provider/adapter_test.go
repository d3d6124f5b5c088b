package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/tokenest"
)

func TestOpenAICompat_Chat(t *testing.T) {
	var gotAuth string
	var gotBody chatCompletionRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello back"}},
			},
			"usage": map[string]any{
				"prompt_tokens":     12,
				"completion_tokens": 5,
				"total_tokens":      17,
			},
		})
	}))
	defer srv.Close()

	a := NewOpenAI(tokenest.NewCounter())
	cred := Credential{APIKey: "sk-test", BaseURL: srv.URL}

	raw, err := a.Chat(context.Background(), cred, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
		Options:  CallOptions{Model: "gpt-4o", Temperature: 0.7},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody.Model != "gpt-4o" {
		t.Errorf("request model = %q", gotBody.Model)
	}
	// The adapter must prepend the assistant persona as a system turn.
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("messages = %+v, want system turn first", gotBody.Messages)
	}
	if raw.Text != "hello back" {
		t.Errorf("Text = %q", raw.Text)
	}
	if raw.Usage == nil || raw.Usage.TotalTokens != 17 {
		t.Errorf("Usage = %+v, want reported total 17", raw.Usage)
	}
}

func TestOpenAICompat_MissingUsageIsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o",
			"choices": []map[string]any{
				{"message": map[string]any{"content": "no usage here"}},
			},
		})
	}))
	defer srv.Close()

	a := NewOpenAI(tokenest.NewCounter())
	raw, err := a.Chat(context.Background(), Credential{APIKey: "k-testkey", BaseURL: srv.URL}, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if raw.Usage != nil {
		t.Errorf("Usage = %+v, want nil so the gateway estimates", raw.Usage)
	}
}

func TestOpenAICompat_RateLimitedMapsToRetryableUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`))
	}))
	defer srv.Close()

	a := NewOpenAI(tokenest.NewCounter())
	_, err := a.Chat(context.Background(), Credential{APIKey: "k-testkey", BaseURL: srv.URL}, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ue.Retryable {
		t.Error("429 must be retryable")
	}
	if ue.Code != "rate_limit_exceeded" || ue.Message != "slow down" {
		t.Errorf("code/message not preserved: %+v", ue)
	}
	if ue.StatusCode != 429 {
		t.Errorf("StatusCode = %d", ue.StatusCode)
	}
}

func TestOpenAICompat_BadRequestNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"invalid_request","message":"bad model"}}`))
	}))
	defer srv.Close()

	a := NewOpenAI(tokenest.NewCounter())
	_, err := a.Chat(context.Background(), Credential{APIKey: "k-testkey", BaseURL: srv.URL}, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Retryable {
		t.Error("400 must not be retryable")
	}
}

func TestAnthropic_SystemPromptLifted(t *testing.T) {
	var gotBody anthropicRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-5-sonnet-20241022",
			"content": []map[string]any{
				{"type": "text", "text": "claude says hi"},
			},
			"usage": map[string]any{"input_tokens": 9, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	a := NewAnthropic(tokenest.NewCounter())
	raw, err := a.Chat(context.Background(), Credential{APIKey: "sk-ant-test", BaseURL: srv.URL}, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotBody.System == "" {
		t.Error("system prompt should be lifted to the top-level field")
	}
	for _, m := range gotBody.Messages {
		if m.Role == "system" {
			t.Error("system turn left in the message list")
		}
	}
	if raw.Usage == nil || raw.Usage.TotalTokens != 13 {
		t.Errorf("Usage = %+v, want input+output = 13", raw.Usage)
	}
	if raw.Text != "claude says hi" {
		t.Errorf("Text = %q", raw.Text)
	}
}

func TestOllama_TestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "codellama:13b"},
				{"name": "qwen2.5-coder"},
			},
		})
	}))
	defer srv.Close()

	a := NewOllama(tokenest.NewCounter())
	info, err := a.TestConnection(context.Background(), Credential{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if len(info.Models) != 2 || info.Models[0] != "codellama:13b" {
		t.Errorf("Models = %v", info.Models)
	}
	if info.Latency <= 0 {
		t.Error("Latency not measured")
	}
}

func TestOllama_ZeroEvalCountsMeanNoUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"model":   "codellama",
			"message": map[string]any{"content": "local answer"},
		})
	}))
	defer srv.Close()

	a := NewOllama(tokenest.NewCounter())
	raw, err := a.Chat(context.Background(), Credential{BaseURL: srv.URL}, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if raw.Usage != nil {
		t.Errorf("Usage = %+v, want nil", raw.Usage)
	}
}
