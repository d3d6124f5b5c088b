package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/aiconfig"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/events"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/failover"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/gateway"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
)

// stubAdapter answers every capability with a fixed response or error.
type stubAdapter struct {
	name string
	resp *provider.RawResponse
	err  error
}

func (s *stubAdapter) Name() string         { return s.name }
func (s *stubAdapter) DefaultModel() string { return s.name + "-default" }
func (s *stubAdapter) Local() bool          { return false }

func (s *stubAdapter) GenerateCode(context.Context, provider.Credential, provider.GenerateRequest) (*provider.RawResponse, error) {
	return s.resp, s.err
}
func (s *stubAdapter) AnalyzeCode(context.Context, provider.Credential, provider.AnalyzeRequest) (*provider.RawResponse, error) {
	return s.resp, s.err
}
func (s *stubAdapter) OptimizeCode(context.Context, provider.Credential, provider.OptimizeRequest) (*provider.RawResponse, error) {
	return s.resp, s.err
}
func (s *stubAdapter) Chat(context.Context, provider.Credential, provider.ChatRequest) (*provider.RawResponse, error) {
	return s.resp, s.err
}
func (s *stubAdapter) TestConnection(context.Context, provider.Credential) (*provider.ConnectionInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ConnectionInfo{Models: []string{s.name + "-default"}}, nil
}
func (s *stubAdapter) CountTokens(_, text string) int { return len(text) }

type memPersistence struct {
	mu  sync.Mutex
	doc []byte
}

func (m *memPersistence) LoadConfigDocument(context.Context) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil, false, nil
	}
	return m.doc, true, nil
}

func (m *memPersistence) SaveConfigDocument(_ context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = append([]byte(nil), doc...)
	return nil
}

func newTestServer(t *testing.T, adapter *stubAdapter) *Server {
	t.Helper()
	v, err := vault.New("server-test-master")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}

	reg := provider.NewRegistry("openai")
	reg.Register(adapter, "openai")

	cfg := &aiconfig.Config{
		Provider:          "openai",
		Model:             "gpt-4o",
		APIKey:            v.Encrypt("sk-server-secret"),
		BaseURL:           "https://api.openai.com/v1",
		Temperature:       0.5,
		MaxTokensGenerate: 2048,
		MaxTokensAnalyze:  1024,
		MaxTokensChat:     512,
	}
	doc, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cfgStore := aiconfig.NewStore(&memPersistence{doc: doc}, v, reg, events.NewBus())
	sel := failover.NewSelector(func(string) health.Status { return health.StatusUp }, nil)
	gw := gateway.New(cfgStore, reg, v, sel, nil, nil)
	monitor := health.NewMonitor(nil, nil, nil)

	return New(gw, cfgStore, monitor, Options{Addr: "127.0.0.1:0"})
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleGenerate(t *testing.T) {
	adapter := &stubAdapter{
		name: "openai",
		resp: &provider.RawResponse{Text: "```json\n{\"generatedCode\": \"print(1)\", \"explanation\": \"输出\"}\n```"},
	}
	srv := newTestServer(t, adapter)

	rec := doRequest(t, srv, "POST", "/v1/ai/generate", `{"prompt":"print one","language":"python"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}

	var res gateway.GenerateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Code != "print(1)" {
		t.Errorf("code = %q", res.Code)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %q", res.Provider)
	}
}

func TestHandleGenerate_MissingPrompt(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "POST", "/v1/ai/generate", `{"language":"go"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGenerate_RateLimitedUpstream(t *testing.T) {
	// Retryable false keeps the executor from sleeping through its backoff
	// schedule; the status mapping is what is under test here.
	adapter := &stubAdapter{
		name: "openai",
		err: &provider.UpstreamError{
			Provider: "openai", StatusCode: 429, Code: "rate_limited", Message: "slow down",
		},
	}
	srv := newTestServer(t, adapter)
	rec := doRequest(t, srv, "POST", "/v1/ai/generate", `{"prompt":"x","language":"go"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Error.Code != "rate_limited" {
		t.Errorf("error code = %q", body.Error.Code)
	}
}

func TestHandleChat(t *testing.T) {
	adapter := &stubAdapter{name: "openai", resp: &provider.RawResponse{Text: "hello back"}}
	srv := newTestServer(t, adapter)

	rec := doRequest(t, srv, "POST", "/v1/ai/chat", `{"messages":[{"role":"user","content":"hi"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var res gateway.ChatResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Reply != "hello back" || res.ConversationID == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleChat_EmptyMessages(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "POST", "/v1/ai/chat", `{"messages":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGetConfig_MasksCredential(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "GET", "/v1/ai/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["apiKey"] != "********" {
		t.Errorf("apiKey = %v, must be masked", got["apiKey"])
	}
	if got["provider"] != "openai" {
		t.Errorf("provider = %v", got["provider"])
	}
}

func TestHandleUpdateConfig(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})

	rec := doRequest(t, srv, "PUT", "/v1/ai/config", `{"temperature":0.2,"model":"gpt-4o-mini"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["temperature"] != 0.2 || got["model"] != "gpt-4o-mini" {
		t.Errorf("config = %v", got)
	}
	if got["apiKey"] != "********" {
		t.Errorf("apiKey leaked: %v", got["apiKey"])
	}
}

func TestHandleUpdateConfig_Invalid(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "PUT", "/v1/ai/config", `{"provider":"unknown-llm"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHealthz(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

type stubUsage struct{}

func (stubUsage) TotalTokensSince(context.Context, time.Time) (int64, error) {
	return 4200, nil
}

func (stubUsage) RecentUsage(context.Context, int) ([]store.UsageRecord, error) {
	return []store.UsageRecord{{ID: "r1", Provider: "openai", Feature: "generate", TotalTokens: 150}}, nil
}

func TestHandleUsage(t *testing.T) {
	adapter := &stubAdapter{name: "openai"}
	v, err := vault.New("server-test-master")
	if err != nil {
		t.Fatalf("vault.New: %v", err)
	}
	reg := provider.NewRegistry("openai")
	reg.Register(adapter, "openai")
	doc, _ := json.Marshal(&aiconfig.Config{Provider: "openai", APIKey: v.Encrypt("sk-x-123456")})
	cfgStore := aiconfig.NewStore(&memPersistence{doc: doc}, v, reg, events.NewBus())
	sel := failover.NewSelector(func(string) health.Status { return health.StatusUp }, nil)
	gw := gateway.New(cfgStore, reg, v, sel, nil, nil)
	srv := New(gw, cfgStore, health.NewMonitor(nil, nil, nil), Options{Usage: stubUsage{}})

	rec := doRequest(t, srv, "GET", "/v1/ai/usage", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got struct {
		TokensLast24h int64               `json:"tokensLast24h"`
		Recent        []store.UsageRecord `json:"recent"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TokensLast24h != 4200 || len(got.Recent) != 1 {
		t.Errorf("summary = %+v", got)
	}
}

func TestHandleCountTokens(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "POST", "/v1/ai/count-tokens", `{"text":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var res gateway.TokenCountResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Tokens != 5 || res.Provider != "openai" || res.Model != "gpt-4o" {
		t.Errorf("result = %+v", res)
	}
}

func TestHandleCountTokens_MissingText(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "POST", "/v1/ai/count-tokens", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleTestConnection(t *testing.T) {
	srv := newTestServer(t, &stubAdapter{name: "openai"})
	rec := doRequest(t, srv, "POST", "/v1/ai/test-connection", `{"provider":"openai"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var res gateway.ConnectionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Models) != 1 || res.Models[0] != "openai-default" {
		t.Errorf("models = %v", res.Models)
	}
}
