// Package query implements the retrieval-to-answer pipeline: query rewrite,
// vector search, reranking, context assembly, refusal policy, generation, and
// citation assembly.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/rerank"
	"github.com/llasta/ragcore/pkg/utils"
)

// RefusalMessage is the fixed answer returned when retrieval confidence is
// below the refusal threshold. Generation is never called in that case.
const RefusalMessage = "I don't have enough context to answer that question reliably."

// rewritePrompt asks the generation gateway to normalize a user question into
// a retrieval query. Rewrite failure is non-fatal.
const rewritePrompt = "Rewrite the following question as a short, self-contained search query. " +
	"Reply with the query only, no explanation.\n\nQuestion: %s"

// Searcher retrieves candidates from the vector store.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error)
}

// Pipeline answers a chat request through the full retrieval chain. Requests
// are handled synchronously and independently; the pipeline holds no state
// across calls.
type Pipeline struct {
	searcher  Searcher
	reranker  rerank.Reranker
	generator Generator
	cfg       config.QueryConfig
	logger    *zap.Logger
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(searcher Searcher, reranker rerank.Reranker, generator Generator, cfg config.QueryConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		searcher:  searcher,
		reranker:  reranker,
		generator: generator,
		cfg:       cfg,
		logger:    logger,
	}
}

// Answer runs the pipeline for one request. The outcome is always one of: an
// answer with citations, a refusal, or an error; never a fabricated or
// silently empty answer.
func (p *Pipeline) Answer(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	userQuery := strings.TrimSpace(req.LastUserMessage())
	if userQuery == "" {
		return nil, fmt.Errorf("request has no user message")
	}

	retrievalQuery := userQuery
	if p.cfg.RewriteEnabled {
		if rewritten, err := p.rewrite(ctx, userQuery); err != nil {
			p.logger.Warn("query rewrite failed, using raw query", zap.Error(err))
		} else if rewritten != "" {
			retrievalQuery = rewritten
		}
	}

	results, err := p.searcher.Search(ctx, retrievalQuery, p.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		p.logger.Info("no candidates retrieved, refusing", zap.String("query", utils.Truncate(userQuery, 120)))
		return &models.ChatResponse{Answer: RefusalMessage, Refused: true}, nil
	}

	// Reranking scores candidates against the original question, not the
	// rewritten retrieval query. On gateway failure the retrieval order is
	// kept and the response is flagged degraded.
	degraded := false
	scored, err := p.reranker.Rerank(ctx, userQuery, results)
	if err != nil {
		p.logger.Warn("rerank failed, falling back to retrieval order", zap.Error(err))
		degraded = true
		scored = make([]rerank.Scored, len(results))
		for i, r := range results {
			scored[i] = rerank.Scored{SearchResult: r, RerankScore: r.Score, RetrievalRank: i}
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RerankScore != scored[j].RerankScore {
			return scored[i].RerankScore > scored[j].RerankScore
		}
		return scored[i].RetrievalRank < scored[j].RetrievalRank
	})
	if len(scored) > p.cfg.TopM {
		scored = scored[:p.cfg.TopM]
	}

	// Refusal policy: enforced before the generation call.
	if scored[0].RerankScore < p.cfg.RefusalThreshold {
		p.logger.Info("best score below refusal threshold",
			zap.Float64("best_score", scored[0].RerankScore),
			zap.Float64("threshold", p.cfg.RefusalThreshold),
			zap.Bool("degraded", degraded),
		)
		return &models.ChatResponse{Answer: RefusalMessage, Refused: true, Degraded: degraded}, nil
	}

	kept, citations := AssembleContext(scored, p.cfg.TokenBudget)
	p.logRanking(userQuery, kept, degraded)

	contextBlock := BuildContextBlock(kept)
	messages := InjectContext(req.Messages, contextBlock)
	answer, usage, err := p.generator.Complete(ctx, messages)
	if err != nil {
		// The ranking above is already logged, so the failed call can be
		// diagnosed from logs alone.
		return nil, err
	}

	return &models.ChatResponse{
		Answer:    answer,
		Citations: citations,
		Degraded:  degraded,
		Usage:     usage,
	}, nil
}

func (p *Pipeline) rewrite(ctx context.Context, userQuery string) (string, error) {
	content, _, err := p.generator.Complete(ctx, []models.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(rewritePrompt, userQuery)},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// logRanking records the retained passages before generation so the retrieval
// outcome is available even when the generation call fails.
func (p *Pipeline) logRanking(query string, kept []rerank.Scored, degraded bool) {
	fields := []zap.Field{
		zap.String("query", utils.Truncate(query, 120)),
		zap.Int("passages", len(kept)),
		zap.Bool("degraded", degraded),
	}
	for i, pz := range kept {
		fields = append(fields, zap.String(
			fmt.Sprintf("passage_%d", i+1),
			fmt.Sprintf("%s score=%.4f", pz.ID, pz.RerankScore),
		))
	}
	p.logger.Debug("assembled context", fields...)
}
