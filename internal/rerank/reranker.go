// Package rerank provides second-pass relevance scoring of a retrieval
// shortlist via a remote cross-encoder gateway.
package rerank

import (
	"context"

	"github.com/llasta/ragcore/internal/models"
)

// Scored pairs a retrieved result with its cross-encoder score and the rank it
// held in the original retrieval order, used for deterministic tie-breaks.
type Scored struct {
	models.SearchResult
	RerankScore   float64
	RetrievalRank int
}

// Reranker scores (query, candidate) pairs. Implementations are remote
// services; callers treat failure as a degradation, not a query failure.
type Reranker interface {
	Rerank(ctx context.Context, query string, results []models.SearchResult) ([]Scored, error)
}
