// Package storeclient is the HTTP client for the vector store service, used by
// the ingestion and query pipelines. The store is a remote collaborator: every
// call carries a timeout and upserts are retried with exponential backoff.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/llasta/ragcore/internal/models"
)

// Client talks to the store's /upsert, /search, /reset, and /health endpoints.
type Client struct {
	baseURL     string
	maxAttempts int
	client      *http.Client
}

// New creates a client. timeout bounds each HTTP call; maxAttempts bounds
// upsert retries (at least 1).
func New(baseURL string, timeout time.Duration, maxAttempts int) *Client {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Client{
		baseURL:     baseURL,
		maxAttempts: maxAttempts,
		client:      &http.Client{Timeout: timeout},
	}
}

// Upsert sends one batch. Transient failures (network, 5xx, 429) are retried
// with exponential backoff up to the attempt limit; per-item failures come
// back in the result and are not retried.
func (c *Client) Upsert(ctx context.Context, items []models.UpsertItem) (*models.UpsertResult, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal upsert batch: %w", err)
	}
	var result models.UpsertResult
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1))
	err = backoff.Retry(func() error {
		return c.post(ctx, "/upsert", body, &result)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("upsert batch: %w", err)
	}
	return &result, nil
}

// Search returns the store's top-k hits for query.
func (c *Client) Search(ctx context.Context, query string, topK int) ([]models.SearchResult, error) {
	body, err := json.Marshal(models.SearchQuery{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}
	var results []models.SearchResult
	if err := c.post(ctx, "/search", body, &results); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}

// Reset clears the store.
func (c *Client) Reset(ctx context.Context) error {
	var confirmation map[string]interface{}
	if err := c.post(ctx, "/reset", nil, &confirmation); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

// Health reports whether the store answers its liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store health status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("store status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(fmt.Errorf("store status %d: %s", resp.StatusCode, data))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode store response: %w", err))
	}
	return nil
}
