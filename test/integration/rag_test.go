// Package integration wires the real components together: a store server over
// HTTP, the ingestion pipeline feeding it, and the query pipeline reading back.
package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/embedding"
	"github.com/llasta/ragcore/internal/ingest"
	"github.com/llasta/ragcore/internal/manifest"
	"github.com/llasta/ragcore/internal/metrics"
	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/query"
	"github.com/llasta/ragcore/internal/rerank"
	"github.com/llasta/ragcore/internal/server"
	"github.com/llasta/ragcore/internal/store"
	"github.com/llasta/ragcore/internal/storeclient"
)

type fixedReranker struct{}

func (fixedReranker) Rerank(ctx context.Context, q string, results []models.SearchResult) ([]rerank.Scored, error) {
	out := make([]rerank.Scored, len(results))
	for i, r := range results {
		out[i] = rerank.Scored{SearchResult: r, RerankScore: r.Score, RetrievalRank: i}
	}
	return out, nil
}

type echoGenerator struct{}

func (echoGenerator) Complete(ctx context.Context, messages []models.ChatMessage) (string, map[string]interface{}, error) {
	return "grounded answer", map[string]interface{}{"total_tokens": float64(7)}, nil
}

func TestIntegration_IngestSearchAnswer(t *testing.T) {
	dir := t.TempDir()

	st, err := store.Open(config.StoreConfig{
		DataDir:            filepath.Join(dir, "data"),
		Metric:             "ip",
		CheckpointInterval: time.Hour,
	}, embedding.NewMockProvider(16), metrics.New("ragstore"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	srv := server.NewServer(st, metrics.New("ragstore"), &config.ServerConfig{}, zap.NewNop())
	httpSrv := httptest.NewServer(srv.Router())
	defer httpSrv.Close()

	docPath := filepath.Join(dir, "handbook.txt")
	content := "the onboarding process takes two weeks and covers tooling and reviews"
	if err := os.WriteFile(docPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	man, err := manifest.Open(filepath.Join(dir, "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer man.Close()

	client := storeclient.New(httpSrv.URL, 10*time.Second, 2)
	pipeline, err := ingest.NewPipeline(config.IngestConfig{
		Segmenter:     ingest.PolicyPage,
		MinChunkChars: 10,
		BatchSize:     16,
		MaxInFlight:   2,
		Lang:          "en",
		PreviewChars:  40,
	}, man, client, "mock", 16, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	report, err := pipeline.Run(ctx, []string{docPath}, false)
	if err != nil {
		t.Fatal(err)
	}
	if report.Upserted != 1 {
		t.Fatalf("report: %+v", report)
	}

	// The chunk is retrievable over HTTP with its provenance metadata.
	hits, err := client.Search(ctx, content, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "handbook#page-0001" {
		t.Fatalf("hits=%+v", hits)
	}
	if !strings.Contains(hits[0].Metadata["source_uri"].(string), "handbook.txt#page=1") {
		t.Errorf("source_uri=%v", hits[0].Metadata["source_uri"])
	}

	// The query pipeline answers with a citation back to the ingested source.
	qp := query.NewPipeline(client, fixedReranker{}, echoGenerator{}, config.QueryConfig{
		TopK:             5,
		TopM:             3,
		TokenBudget:      500,
		RefusalThreshold: 0.1,
	}, zap.NewNop())
	resp, err := qp.Answer(ctx, &models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Refused || resp.Answer != "grounded answer" {
		t.Fatalf("resp=%+v", resp)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].Page != 1 {
		t.Errorf("citations=%+v", resp.Citations)
	}

	// Every chunk in the store has exactly one manifest entry with a matching
	// content hash.
	entries, err := man.Entries(ctx, "handbook")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ChunkID != hits[0].ID {
		t.Fatalf("entries=%+v", entries)
	}
	if entries[0].RowHash != ingest.RowHash(hits[0].Text) {
		t.Errorf("manifest row_hash does not match stored chunk text")
	}

	// Re-running the same ingestion is a no-op thanks to the manifest.
	again, err := pipeline.Run(ctx, []string{docPath}, false)
	if err != nil {
		t.Fatal(err)
	}
	if again.Upserted != 0 || again.Skipped != 1 {
		t.Errorf("second run: %+v", again)
	}
}
