package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/storeclient"
)

// GatewayProber checks a remote collaborator is reachable.
type GatewayProber interface {
	Ping(ctx context.Context) error
}

// Server exposes the query pipeline over HTTP.
type Server struct {
	pipeline  *Pipeline
	store     *storeclient.Client
	generator GatewayProber
	host      string
	port      int
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates the query server. generator may be nil when the generation
// gateway has no probe endpoint.
func NewServer(pipeline *Pipeline, store *storeclient.Client, generator GatewayProber, host string, port int, logger *zap.Logger) *Server {
	return &Server{
		pipeline:  pipeline,
		store:     store,
		generator: generator,
		host:      host,
		port:      port,
		logger:    logger,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Post("/api/chat", s.handleChat)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.server = &http.Server{Addr: addr, Handler: s.Router()}
	s.logger.Info("starting query server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.pipeline.Answer(r.Context(), &req)
	if err != nil {
		s.logger.Error("chat request failed", zap.Error(err))
		if errors.Is(err, ErrGeneration) {
			s.respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleHealth probes the vector store and the generation gateway; the
// response reports this server's liveness plus each collaborator's status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "healthy"
	if err := s.store.Health(r.Context()); err != nil {
		storeStatus = fmt.Sprintf("error: %v", err)
	}
	genStatus := "healthy"
	if s.generator != nil {
		if err := s.generator.Ping(r.Context()); err != nil {
			genStatus = fmt.Sprintf("error: %v", err)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":     "healthy",
		"store":      storeStatus,
		"generation": genStatus,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
