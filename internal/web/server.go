// Package web implements the Issuer's HTTP API: seven endpoints (activate,
// validate, heartbeat, upgrade, public-key, compose, health) behind a
// mux/ListenAndServe/Shutdown/TLS shape trimmed from a session-backed admin
// dashboard down to a small stateless JSON API — the Issuer has no
// cookies, no CSRF, no HTML templates, only JSON endpoints guarded by a
// per-IP rate limiter (internal/ratelimit).
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nainovate/license-authority/internal/issuer"
	"github.com/nainovate/license-authority/internal/logging"
	"github.com/nainovate/license-authority/internal/metrics"
	"github.com/nainovate/license-authority/internal/ratelimit"
)

// Dependencies is what the Issuer's HTTP server needs from the rest of the
// application.
type Dependencies struct {
	Engine         *issuer.Engine
	Log            *logging.Logger
	MetricsEnabled bool
	Version        string
	RateLimit      int // requests per IP per window; 0 disables limiting
	RateWindow     time.Duration
}

// Server is the Issuer's HTTP server.
type Server struct {
	deps    Dependencies
	mux     *http.ServeMux
	server  *http.Server
	limiter *ratelimit.Limiter
	tlsCert string
	tlsKey  string
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	window := deps.RateWindow
	if window == 0 {
		window = time.Hour
	}
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		limiter: ratelimit.New(deps.RateLimit, window),
	}
	s.registerRoutes()
	return s
}

// SetTLS configures TLS certificate and key paths for HTTPS serving.
func (s *Server) SetTLS(cert, key string) {
	s.tlsCert = cert
	s.tlsKey = key
}

func (s *Server) registerRoutes() {
	limited := func(h http.HandlerFunc) http.Handler {
		return s.rateLimited(h)
	}

	if s.deps.MetricsEnabled {
		s.mux.Handle("GET /metrics", promhttp.Handler())
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/public-key", s.handlePublicKey)
	s.mux.HandleFunc("GET /api/v1/compose/{fingerprint}", s.handleCompose)

	s.mux.Handle("POST /api/v1/activate", limited(s.handleActivate))
	s.mux.Handle("POST /api/v1/validate", limited(s.handleValidate))
	s.mux.Handle("POST /api/v1/heartbeat", limited(s.handleHeartbeat))
	s.mux.Handle("POST /api/v1/upgrade", limited(s.handleUpgrade))
}

// rateLimited wraps h with a per-client-IP request cap taken from the
// Issuer's configured per-hour limit (not a tier's api_rate_limit_per_hour
// figure) — enforced here at the transport edge rather than per customer,
// so it blunts abusive clients without metering per-tier usage.
func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			metrics.RateLimitRejections.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		h(w, r)
	})
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if s.tlsCert != "" {
		s.deps.Log.Info("issuer api listening (TLS)", "addr", addr)
		return s.server.ListenAndServeTLS(s.tlsCert, s.tlsKey)
	}
	s.deps.Log.Info("issuer api listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// writeJSON encodes v as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
