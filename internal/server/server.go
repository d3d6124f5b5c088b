// Package server exposes the gateway over HTTP: the capability endpoints,
// the provider configuration resource, health, and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/aiconfig"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/gateway"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/health"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/store"
	"github.com/XcodeFish/codegenius-ai-gateway/internal/tracing"
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxBodySize    int64
	TracingEnabled bool

	// MetricsHandler serves GET /metrics when non-nil.
	MetricsHandler http.HandlerFunc

	// Usage backs GET /v1/ai/usage when non-nil. *store.Store satisfies it.
	Usage UsageReader
}

// UsageReader is the slice of the storage layer the usage endpoint needs.
type UsageReader interface {
	TotalTokensSince(ctx context.Context, since time.Time) (int64, error)
	RecentUsage(ctx context.Context, limit int) ([]store.UsageRecord, error)
}

// Server binds the chi router to the configured address and provides
// graceful shutdown support.
type Server struct {
	router  chi.Router
	httpSrv *http.Server
}

// New creates a Server routing to the given gateway, configuration store,
// and health monitor.
func New(gw *gateway.Gateway, cfg *aiconfig.Store, monitor *health.Monitor, opts Options) *Server {
	h := &handlers{gw: gw, cfg: cfg, monitor: monitor, usage: opts.Usage}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.TracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}
	if opts.MaxBodySize > 0 {
		r.Use(maxBody(opts.MaxBodySize))
	}

	r.Route("/v1/ai", func(r chi.Router) {
		r.Post("/generate", h.handleGenerate)
		r.Post("/analyze", h.handleAnalyze)
		r.Post("/optimize", h.handleOptimize)
		r.Post("/chat", h.handleChat)
		r.Post("/test-connection", h.handleTestConnection)
		r.Post("/count-tokens", h.handleCountTokens)
		r.Get("/config", h.handleGetConfig)
		r.Put("/config", h.handleUpdateConfig)
		r.Get("/health", h.handleHealth)
		if opts.Usage != nil {
			r.Get("/usage", h.handleUsage)
		}
	})
	r.Get("/healthz", h.handleHealthz)
	if opts.MetricsHandler != nil {
		r.Get("/metrics", opts.MetricsHandler)
	}

	return &Server{
		router: r,
		httpSrv: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Router returns the underlying chi.Router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening. It blocks until the server is shut down or
// encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}
