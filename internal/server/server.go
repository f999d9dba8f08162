// Package server exposes the coordinator over HTTP. Worker traffic (register,
// work checkout, result reports, check-ins) and the read-side (status, items,
// results) share one JSON API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/classq/internal/config"
	"github.com/me/classq/internal/coord"
	"github.com/me/classq/internal/store"
)

// Server is the classq coordinator API server.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.ServerConfig
	startTime time.Time
	sched     *coord.Scheduler
	runners   *Registry
	store     store.Store // optional; read-side results queries
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore attaches the results store used by the /results endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a Server with all routes registered.
func New(cfg config.ServerConfig, sched *coord.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		sched:     sched,
		runners:   NewRegistry(cfg.RunnerTimeout()),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Get("/items", s.handleListItems)
		r.Get("/results", s.handleListResults)
		r.Get("/runs", s.handleListRuns)

		r.Route("/runners", func(r chi.Router) {
			r.Get("/", s.handleListRunners)
			r.Post("/", s.handleRegisterRunner)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/heartbeat", s.handleRunnerHeartbeat)
				r.Get("/work", s.handleRunnerWork)
				r.Post("/results", s.handleRunnerResult)
				r.Post("/checkin", s.handleRunnerCheckIn)
			})
		})
	})
}

// handleHealth reports liveness and uptime.
// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, map[string]any{
		"status": "ok",
		"run_id": s.sched.RunID(),
		"uptime": time.Since(s.startTime).String(),
	})
}
