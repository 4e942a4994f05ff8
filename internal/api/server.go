package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"gatekeeper/internal/limiter"
	"gatekeeper/internal/store"
	"gatekeeper/pkg/types"
)

const (
	ServiceName    = "gatekeeper"
	ServiceVersion = "1.0.0"
)

// SessionRegistry is the read-only view of the session registry the API
// needs; defined here to avoid coupling to the websocket implementation.
type SessionRegistry interface {
	Snapshot() types.RegistrySnapshot
}

// StoreHealth reports counter-store health for the health endpoint.
type StoreHealth interface {
	HealthCheck(ctx context.Context) store.HealthStatus
}

// DatabaseHealth reports relational-pool health for the health endpoint.
type DatabaseHealth interface {
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP administrative surface: health, session stats, and
// rate-limit inspection/reset. No business logic lives here, only HTTP
// handling and JSON serialization.
type Server struct {
	limiter       limiter.Limiter
	registry      SessionRegistry
	store         StoreHealth
	db            DatabaseHealth
	healthTimeout time.Duration
	router        *http.ServeMux
}

// NewServer wires the admin surface to its collaborators.
func NewServer(lim limiter.Limiter, registry SessionRegistry, st StoreHealth, db DatabaseHealth, healthTimeout time.Duration) *Server {
	s := &Server{
		limiter:       lim,
		registry:      registry,
		store:         st,
		db:            db,
		healthTimeout: healthTimeout,
		router:        http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /{$}", s.jsonMiddleware(http.HandlerFunc(s.root)))
	s.router.Handle("GET /health", s.jsonMiddleware(http.HandlerFunc(s.healthCheck)))
	s.router.Handle("GET /ws/stats", s.jsonMiddleware(http.HandlerFunc(s.sessionStats)))
	s.router.Handle("GET /api/ratelimit/{identifier}", s.jsonMiddleware(http.HandlerFunc(s.rateLimitStats)))
	s.router.Handle("DELETE /api/ratelimit/{identifier}", s.jsonMiddleware(http.HandlerFunc(s.rateLimitReset)))
}

// ServeHTTP implements http.Handler. CORS wraps the whole surface so
// preflight requests are answered before method routing can reject them.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.router).ServeHTTP(w, r)
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HealthResponse aggregates component checks. Dependency failures surface as
// "degraded": the admission layer never reports itself down because a
// collaborator is.
type HealthResponse struct {
	Status         string                 `json:"status"`
	Timestamp      float64                `json:"timestamp"`
	Service        string                 `json:"service"`
	Version        string                 `json:"version"`
	Checks         map[string]interface{} `json:"checks"`
	ResponseTimeMs float64                `json:"response_time_ms"`
}

// GET / returns basic service information.
func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"service":   ServiceName,
		"version":   ServiceVersion,
		"status":    "running",
		"timestamp": types.UnixSeconds(time.Now()),
		"endpoints": map[string]string{
			"health":          "/health",
			"websocket":       "/ws/{client_id}",
			"websocket_stats": "/ws/stats",
			"rate_limit":      "/api/ratelimit/{identifier}",
		},
	})
}

// GET /health runs component checks under a bounded latency budget. The store
// check gets half the budget so a hung Redis cannot eat the whole response
// window.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	checks := map[string]interface{}{
		"application": map[string]string{"status": "healthy"},
	}
	status := "healthy"

	// The memory backend runs without a store; report it as disabled rather
	// than failing the check.
	if s.store == nil {
		checks["redis"] = map[string]string{"status": "disabled"}
	} else {
		storeCtx, cancelStore := context.WithTimeout(r.Context(), s.healthTimeout/2)
		storeHealth := s.store.HealthCheck(storeCtx)
		cancelStore()

		checks["redis"] = storeHealth
		if storeHealth.Status != "healthy" {
			status = "degraded"
		}
	}

	dbCtx, cancelDB := context.WithTimeout(r.Context(), s.healthTimeout/2)
	err := s.db.HealthCheck(dbCtx)
	cancelDB()

	if err != nil {
		checks["database"] = map[string]string{"status": "error", "message": err.Error()}
		status = "degraded"
	} else {
		checks["database"] = map[string]string{"status": "healthy"}
	}

	response := HealthResponse{
		Status:         status,
		Timestamp:      types.UnixSeconds(start),
		Service:        ServiceName,
		Version:        ServiceVersion,
		Checks:         checks,
		ResponseTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}

	// Degraded is still 200: a dependency outage must not look like a
	// service outage to the load balancer.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// GET /ws/stats returns the registry snapshot with per-session counters.
func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(s.registry.Snapshot())
}

// GET /api/ratelimit/{identifier} returns window stats without mutation.
func (s *Server) rateLimitStats(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	if identifier == "" {
		s.sendError(w, "Identifier required", http.StatusBadRequest)
		return
	}

	stats, err := s.limiter.Stats(r.Context(), identifier)
	if err != nil {
		s.sendError(w, "Failed to get rate limit stats", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(stats)
}

// DELETE /api/ratelimit/{identifier} is the administrative unblock.
func (s *Server) rateLimitReset(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	if identifier == "" {
		s.sendError(w, "Identifier required", http.StatusBadRequest)
		return
	}

	if err := s.limiter.Reset(r.Context(), identifier); err != nil {
		s.sendError(w, "Failed to reset rate limit", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{
		"message":    "Rate limit reset",
		"identifier": identifier,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
