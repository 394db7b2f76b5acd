// Package api exposes the HTTP surface: the streaming chat endpoint, health
// probes, and Prometheus metrics, wrapped in recovery, logging, and per-IP
// rate limiting middleware.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/venn0/venn/internal/cache"
	"github.com/venn0/venn/internal/pipeline"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Orchestrator *pipeline.Orchestrator // Required
	Cache        *cache.SemanticCache   // Optional: nil disables caching
	ReadyChecks  map[string]ReadyCheck  // Dependency pings for /ready
	TrustProxy   bool                   // Trust X-Real-IP/X-Forwarded-For
	RateBurst    int                    // Rate limiter burst per IP (0 = default 60)
	MaxBodyBytes int64                  // Chat request body cap (0 = default 64 KiB)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	ch := &chatHandler{
		orch:    cfg.Orchestrator,
		cache:   cfg.Cache,
		maxBody: maxBody,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.stream)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first): Recovery → Logging → RateLimit.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Probes and metrics bypass the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.ReadyChecks))
	topMux.Handle("GET /metrics", promhttp.Handler())
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
