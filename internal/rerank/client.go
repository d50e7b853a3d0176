package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/llasta/ragcore/internal/models"
)

// Client calls a cross-encoder rerank gateway: POST /rerank with the query and
// candidate passages, scores back in candidate order.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates a rerank gateway client.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model    string   `json:"model,omitempty"`
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank scores each result against the query. The returned slice preserves
// the input (retrieval) order; sorting is the caller's concern.
func (c *Client) Rerank(ctx context.Context, query string, results []models.SearchResult) ([]Scored, error) {
	if len(results) == 0 {
		return nil, nil
	}
	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Text
	}
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Passages: passages})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank gateway: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank gateway status %d: %s", resp.StatusCode, data)
	}
	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(results) {
		return nil, fmt.Errorf("rerank gateway returned %d scores for %d passages", len(parsed.Scores), len(results))
	}
	scored := make([]Scored, len(results))
	for i, r := range results {
		scored[i] = Scored{SearchResult: r, RerankScore: parsed.Scores[i], RetrievalRank: i}
	}
	return scored, nil
}
