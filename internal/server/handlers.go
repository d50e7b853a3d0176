package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/embedding"
	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/store"
)

// handleUpsert accepts a JSON array of {id, text, metadata} and applies it as
// one batch. Malformed items are reported per item in failed[], not as a batch
// failure.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var items []models.UpsertItem
	if err := json.NewDecoder(r.Body).Decode(&items); err != nil {
		s.observe("upsert", "error", start)
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.store.Upsert(r.Context(), items)
	if err != nil {
		s.observe("upsert", "error", start)
		s.logger.Error("upsert failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.observe("upsert", "success", start)
	s.respondJSON(w, http.StatusOK, result)
}

// handleSearch embeds the query and returns the top-k hits as a JSON array.
// Blank queries return an empty array; top_k is clamped.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.observe("search", "error", start)
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := query.Validate(); err != nil {
		s.observe("search", "error", start)
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(query.Query) == "" {
		s.observe("search", "success", start)
		s.respondJSON(w, http.StatusOK, []models.SearchResult{})
		return
	}
	results, err := s.store.Search(r.Context(), strings.TrimSpace(query.Query), query.TopK)
	if err != nil {
		s.observe("search", "error", start)
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.observe("search", "success", start)
	s.respondJSON(w, http.StatusOK, results)
}

// handleReset irreversibly clears the store.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.store.Reset(r.Context()); err != nil {
		s.observe("reset", "error", start)
		s.logger.Error("reset failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.observe("reset", "success", start)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "reset",
		"total_items": 0,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	stats := s.store.Stats()
	s.observe("health", "success", start)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "healthy",
		"model":         stats.Model,
		"index_size":    stats.IndexSize,
		"metadata_size": stats.MetadataSize,
		"embedding_dim": stats.Dimension,
	})
}

// statusFor maps store errors to HTTP statuses: gateway exhaustion is 503,
// corruption is 500, anything else 500.
func statusFor(err error) int {
	if errors.Is(err, embedding.ErrUnavailable) {
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, store.ErrCorrupt) {
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func (s *Server) observe(endpoint, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(endpoint, status, time.Since(start))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
