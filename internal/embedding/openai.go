package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client is an OpenAI-compatible embeddings client implementing Provider.
// Transient gateway failures (network errors, 5xx, 429) are retried with
// exponential backoff; once attempts are exhausted the error wraps
// ErrUnavailable.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxRetries int
	client     *http.Client
}

// ClientConfig configures the embeddings client.
type ClientConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a new embeddings client. The API key is read from the
// environment variable named in APIKeyEnv; an empty key is allowed for
// gateways that do not authenticate.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     os.Getenv(cfg.APIKeyEnv),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: retries,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// Dimensions returns the configured embedding dimension.
func (c *Client) Dimensions() int { return c.dimensions }

// Model returns the embedding model identifier.
func (c *Client) Model() string { return c.model }

// Embed returns an embedding vector for a single text. Unlike EmbedBatch it
// rejects a wrong-width vector here, since a lone query has no per-item path.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs[0]) != c.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vecs[0]), c.dimensions)
	}
	return vecs[0], nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch returns embeddings for texts in input order. Vector widths are
// passed through as received so the caller can fail wrong-width items
// individually instead of losing the batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	var resp embeddingsResponse
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	err = backoff.Retry(func() error {
		return c.doEmbed(ctx, body, &resp)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding gateway returned %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding gateway returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *Client) doEmbed(ctx context.Context, body []byte, out *embeddingsResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("embedding gateway status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return backoff.Permanent(fmt.Errorf("embedding gateway status %d: %s", resp.StatusCode, data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode embeddings response: %w", err))
	}
	return nil
}
