package models

import "fmt"

// SearchQuery is the body of a search request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

// Validate normalizes the query: empty queries are allowed (they return no
// results), top_k is clamped to [1, MaxTopK] with a default of DefaultTopK.
func (q *SearchQuery) Validate() error {
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK > MaxTopK {
		q.TopK = MaxTopK
	}
	return nil
}

// Default and maximum top_k for a search request.
const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// SearchResult is a single search hit: a read-only projection, never persisted.
type SearchResult struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Score    float64                `json:"score"`
}

// StoreStats is the read-only snapshot returned by the store's health endpoint.
type StoreStats struct {
	IndexSize    int    `json:"index_size"`
	MetadataSize int    `json:"metadata_size"`
	Dimension    int    `json:"embedding_dim"`
	Model        string `json:"model"`
}

func (s StoreStats) String() string {
	return fmt.Sprintf("index=%d metadata=%d dim=%d", s.IndexSize, s.MetadataSize, s.Dimension)
}
