package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/models"
)

// ErrGeneration marks a failed or timed-out generation call. The retrieved
// context and ranking are logged before the call, so diagnosis survives it.
var ErrGeneration = errors.New("generation failed")

// Generator produces a chat completion for a prepared message list.
type Generator interface {
	Complete(ctx context.Context, messages []models.ChatMessage) (string, map[string]interface{}, error)
}

// ChatClient is an OpenAI-compatible chat completion client.
type ChatClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// NewChatClient creates a generation gateway client from config. The API key
// is read from the environment variable named in APIKeyEnv.
func NewChatClient(cfg config.GenerationConfig) *ChatClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ChatClient{
		baseURL:     cfg.BaseURL,
		apiKey:      os.Getenv(cfg.APIKeyEnv),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}
}

// Ping checks the generation gateway is reachable. OpenAI-compatible gateways
// expose /v1/models without side effects.
func (c *ChatClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation gateway status %d", resp.StatusCode)
	}
	return nil
}

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []models.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature float64              `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message models.ChatMessage `json:"message"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// Complete calls /v1/chat/completions and returns the assistant content plus
// token usage. Failures wrap ErrGeneration.
func (c *ChatClient) Complete(ctx context.Context, messages []models.ChatMessage) (string, map[string]interface{}, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", nil, fmt.Errorf("%w: gateway status %d: %s", ErrGeneration, resp.StatusCode, data)
	}
	var parsed chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil, fmt.Errorf("%w: decode response: %v", ErrGeneration, err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil, fmt.Errorf("%w: gateway returned no choices", ErrGeneration)
	}
	return parsed.Choices[0].Message.Content, parsed.Usage, nil
}
