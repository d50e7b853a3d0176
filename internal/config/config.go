// Package config provides configuration loading and structs for ragcore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the store server, the ingestion pipeline,
// and the query server. Each binary reads the sections it needs.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Query      QueryConfig      `yaml:"query"`
	Rerank     RerankConfig     `yaml:"rerank"`
	Generation GenerationConfig `yaml:"generation"`
}

// ServerConfig holds HTTP server settings for the store and query servers.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	QueryPort int    `yaml:"query_port"`
}

// StoreConfig holds the vector store's data directory, metric, and checkpointing.
type StoreConfig struct {
	// DataDir holds the index snapshot and the metadata database. Owned
	// exclusively by the store process.
	DataDir string `yaml:"data_dir"`
	// Metric is "ip" (inner product over normalized vectors) or "l2"
	// (squared Euclidean distance). Fixed at store creation.
	Metric string `yaml:"metric"`
	// CheckpointInterval is the periodic snapshot timer; a snapshot is also
	// written after every completed upsert batch.
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	// EmbedConcurrency bounds concurrent embedding calls for one upsert batch.
	EmbedConcurrency int `yaml:"embed_concurrency"`
}

// IndexPath returns the path of the vector index snapshot inside DataDir.
func (s *StoreConfig) IndexPath() string { return filepath.Join(s.DataDir, "index.bin") }

// MetaPath returns the path of the metadata database inside DataDir.
func (s *StoreConfig) MetaPath() string { return filepath.Join(s.DataDir, "meta.db") }

// EmbeddingConfig holds the embedding gateway connection.
type EmbeddingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Model      string        `yaml:"model"`
	Dimensions int           `yaml:"dimensions"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// IngestConfig holds ingestion pipeline settings.
type IngestConfig struct {
	StoreURL     string        `yaml:"store_url"`
	ManifestPath string        `yaml:"manifest_path"`
	// Segmenter is "page" (1 page = 1 chunk) or "window" (word windows).
	Segmenter    string        `yaml:"segmenter"`
	ChunkSize    int           `yaml:"chunk_size"`
	ChunkOverlap int           `yaml:"chunk_overlap"`
	// MinChunkChars drops chunks shorter than this after cleaning.
	MinChunkChars int           `yaml:"min_chunk_chars"`
	BatchSize     int           `yaml:"batch_size"`
	MaxInFlight   int           `yaml:"max_in_flight"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MaxChunks     int           `yaml:"max_chunks"`
	Lang          string        `yaml:"lang"`
	PreviewChars  int           `yaml:"preview_chars"`
}

// QueryConfig holds query pipeline settings.
type QueryConfig struct {
	StoreURL         string        `yaml:"store_url"`
	TopK             int           `yaml:"top_k"`
	TopM             int           `yaml:"top_m"`
	TokenBudget      int           `yaml:"token_budget"`
	RefusalThreshold float64       `yaml:"refusal_threshold"`
	RewriteEnabled   bool          `yaml:"rewrite_enabled"`
	SearchTimeout    time.Duration `yaml:"search_timeout"`
}

// RerankConfig holds the cross-encoder reranker gateway connection.
type RerankConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// GenerationConfig holds the OpenAI-compatible chat completion gateway.
type GenerationConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load reads and parses the config file at path, expands paths, and applies
// defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Store.DataDir = expandPath(cfg.Store.DataDir, configDir)
	cfg.Ingest.ManifestPath = expandPath(cfg.Ingest.ManifestPath, configDir)

	return &cfg, nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
