// Package httpserver provides the HTTP REST API of the research trend service.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/research-trend-service/internal/database"
	"github.com/helixir/research-trend-service/internal/pipeline"
	"github.com/helixir/research-trend-service/internal/task"
)

// Server is the HTTP REST API server.
type Server struct {
	router          chi.Router
	httpServer      *http.Server
	manager         *pipeline.Manager
	progress        *task.Broadcaster
	db              *database.DB
	validate        *validator.Validate
	defaultKeywords string
	logger          zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// DefaultKeywords is the scope started by POST /api/v1/pipeline when the body names none.
	DefaultKeywords string
}

// NewServer creates a new HTTP server. progress must be the broadcaster the manager
// reports to.
func NewServer(
	cfg Config,
	manager *pipeline.Manager,
	progress *task.Broadcaster,
	db *database.DB,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		manager:         manager,
		progress:        progress,
		db:              db,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		defaultKeywords: cfg.DefaultKeywords,
		logger:          logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/scopes", s.listScopes)
		r.Post("/scopes", s.registerScope)
		r.Get("/scopes/{keywords}/combinations/{index}/years/{year}", s.getCombinationYear)
		r.Get("/scopes/{keywords}/predictions/{year}", s.getPredictions)

		r.Post("/pipeline", s.startPipeline)
		r.Get("/pipeline", s.getPipelineStatus)
		r.Delete("/pipeline", s.cancelPipeline)
		r.Get("/pipeline/progress", s.streamProgress)
	})

	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status including the pipeline state.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
		"pipeline": s.manager.Status().State,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
