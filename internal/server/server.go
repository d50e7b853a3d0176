// Package server provides the HTTP API for the vector store.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/metrics"
	"github.com/llasta/ragcore/internal/store"
)

// Server is the HTTP server for the vector store API.
type Server struct {
	store   *store.Store
	metrics *metrics.Metrics
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(st *store.Store, m *metrics.Metrics, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		store:   st,
		metrics: m,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Post("/upsert", s.handleUpsert)
	r.Post("/search", s.handleSearch)
	r.Post("/reset", s.handleReset)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("starting store server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
