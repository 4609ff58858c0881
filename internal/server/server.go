// Package server provides the HTTP transport boundary: call lifecycle
// endpoints, API-key auth, rate limiting, and the session manager.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dativo-io/teller/internal/otel"
)

// defaultTimeout bounds one turn request end to end; generation itself is
// capped at 60s, dispatch adds store I/O on top.
const defaultTimeout = 90 * time.Second

// Server holds all dependencies for the HTTP API.
type Server struct {
	router      *chi.Mux
	manager     *Manager
	apiKeys     map[string]string
	limiter     *RateLimiter
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithCORSOrigins sets allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithRateLimiter sets the request rate limiter (optional).
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// NewServer builds a Server. apiKeys maps key -> caller name; an empty map
// disables auth (local development).
func NewServer(manager *Manager, apiKeys map[string]string, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		manager:     manager,
		apiKeys:     apiKeys,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated call API
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/calls", s.handleCreateCall)
		r.Post("/v1/calls/{id}/messages", s.handleCallMessage)
		r.Delete("/v1/calls/{id}", s.handleEndCall)
	})

	return r
}

// CORSMiddleware handles preflight and sets allow headers for the
// configured origins.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := "*"
	if len(origins) > 0 {
		allowed = origins[0]
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
