package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/aiconfig"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/gateway"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/normalize"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/resilient"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/vault"
)

type handlers struct {
	gw      *gateway.Gateway
	cfg     *aiconfig.Store
	monitor *health.Monitor
	usage   UsageReader
}

type generatePayload struct {
	Prompt   string `json:"prompt"`
	Language string `json:"language"`
	Context  string `json:"context,omitempty"`
}

func (h *handlers) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var p generatePayload
	if !decode(w, r, &p) {
		return
	}
	if p.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}
	res, err := h.gw.GenerateCode(r.Context(), provider.GenerateRequest{
		Prompt:   p.Prompt,
		Language: p.Language,
		Context:  p.Context,
	})
	respond(w, res, err)
}

type analyzePayload struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

func (h *handlers) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var p analyzePayload
	if !decode(w, r, &p) {
		return
	}
	if p.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}
	res, err := h.gw.AnalyzeCode(r.Context(), provider.AnalyzeRequest{
		Code:     p.Code,
		Language: p.Language,
	})
	respond(w, res, err)
}

type optimizePayload struct {
	Code     string   `json:"code"`
	Language string   `json:"language"`
	Goals    []string `json:"goals,omitempty"`
}

func (h *handlers) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var p optimizePayload
	if !decode(w, r, &p) {
		return
	}
	if p.Code == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}
	res, err := h.gw.OptimizeCode(r.Context(), provider.OptimizeRequest{
		Code:     p.Code,
		Language: p.Language,
		Goals:    p.Goals,
	})
	respond(w, res, err)
}

func (h *handlers) handleChat(w http.ResponseWriter, r *http.Request) {
	var p gateway.ChatInput
	if !decode(w, r, &p) {
		return
	}
	if len(p.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "messages must not be empty")
		return
	}
	res, err := h.gw.Chat(r.Context(), p)
	respond(w, res, err)
}

type testConnectionPayload struct {
	Provider string `json:"provider,omitempty"`
}

func (h *handlers) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var p testConnectionPayload
	if !decode(w, r, &p) {
		return
	}
	res, err := h.gw.TestConnection(r.Context(), p.Provider)
	respond(w, res, err)
}

type countTokensPayload struct {
	Text     string `json:"text"`
	Model    string `json:"model,omitempty"`
	Provider string `json:"provider,omitempty"`
}

func (h *handlers) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var p countTokensPayload
	if !decode(w, r, &p) {
		return
	}
	if p.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}
	res, err := h.gw.CountTokens(r.Context(), p.Provider, p.Model, p.Text)
	respond(w, res, err)
}

// maskedConfig is the read shape of the configuration resource; the stored
// credential never leaves the process.
type maskedConfig struct {
	aiconfig.Config
	APIKey string `json:"apiKey"`
}

func (h *handlers) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.cfg.GetConfig(r.Context())
	if err != nil {
		respond(w, nil, err)
		return
	}
	out := maskedConfig{Config: *cfg}
	if cfg.APIKey != "" {
		out.APIKey = "********"
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch aiconfig.Patch
	if !decode(w, r, &patch) {
		return
	}
	cfg, err := h.cfg.UpdateConfig(r.Context(), patch)
	if err != nil {
		respond(w, nil, err)
		return
	}
	out := maskedConfig{Config: *cfg}
	if cfg.APIKey != "" {
		out.APIKey = "********"
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Snapshot())
}

type usageSummary struct {
	TokensLast24h int64               `json:"tokensLast24h"`
	Recent        []store.UsageRecord `json:"recent"`
}

func (h *handlers) handleUsage(w http.ResponseWriter, r *http.Request) {
	total, err := h.usage.TotalTokensSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		respond(w, nil, err)
		return
	}
	recent, err := h.usage.RecentUsage(r.Context(), 50)
	if err != nil {
		respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, usageSummary{TokensLast24h: total, Recent: recent})
}

func (h *handlers) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encoding response failed")
	}
}

// respond maps gateway errors to HTTP statuses.
func respond(w http.ResponseWriter, result any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	var blocked *gateway.BlockedContentError
	var credErr *vault.CredentialError
	var cfgErr *aiconfig.ConfigurationError
	var parseErr *normalize.ParseError
	var timeoutErr *resilient.TimeoutError
	var upstreamErr *provider.UpstreamError

	switch {
	case errors.As(err, &blocked):
		writeError(w, http.StatusUnprocessableEntity, "content_blocked", blocked.Error())
	case errors.As(err, &credErr):
		writeError(w, http.StatusBadRequest, "invalid_credential", credErr.Error())
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, "invalid_configuration", cfgErr.Error())
	case errors.As(err, &parseErr):
		writeError(w, http.StatusBadGateway, "unparseable_response", parseErr.Error())
	case errors.As(err, &timeoutErr):
		writeError(w, http.StatusGatewayTimeout, "timeout", timeoutErr.Error())
	case errors.As(err, &upstreamErr):
		status := http.StatusBadGateway
		if upstreamErr.StatusCode == http.StatusRequestTimeout {
			status = http.StatusGatewayTimeout
		} else if upstreamErr.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		writeError(w, status, upstreamErr.Code, upstreamErr.Message)
	default:
		log.Error().Err(err).Msg("unhandled gateway error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
