// Package embedding provides text embedding via a remote OpenAI-compatible
// gateway, plus a deterministic mock for tests.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable is returned once retries against the embedding gateway are
// exhausted. Callers surface it as service-unavailable.
var ErrUnavailable = errors.New("embedding gateway unavailable")

// Provider produces vector embeddings for text. The gateway contract: the same
// model version maps the same text to the same vector.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}
