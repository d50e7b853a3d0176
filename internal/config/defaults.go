package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9000
	}
	if cfg.Server.QueryPort == 0 {
		cfg.Server.QueryPort = 8080
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "/usr/local/var/ragcore/data"
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = "ip"
	}
	if cfg.Store.CheckpointInterval == 0 {
		cfg.Store.CheckpointInterval = 60 * time.Second
	}
	if cfg.Store.EmbedConcurrency == 0 {
		cfg.Store.EmbedConcurrency = 4
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "http://localhost:8001/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "EMBEDDING_API_KEY"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "bge-m3"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 5
	}
	if cfg.Ingest.StoreURL == "" {
		cfg.Ingest.StoreURL = "http://localhost:9000"
	}
	if cfg.Ingest.ManifestPath == "" {
		cfg.Ingest.ManifestPath = "/usr/local/var/ragcore/manifest.db"
	}
	if cfg.Ingest.Segmenter == "" {
		cfg.Ingest.Segmenter = "page"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 512
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.MinChunkChars == 0 {
		cfg.Ingest.MinChunkChars = 20
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 64
	}
	if cfg.Ingest.MaxInFlight == 0 {
		cfg.Ingest.MaxInFlight = 4
	}
	if cfg.Ingest.HTTPTimeout == 0 {
		cfg.Ingest.HTTPTimeout = 300 * time.Second
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 5
	}
	if cfg.Ingest.Lang == "" {
		cfg.Ingest.Lang = "en"
	}
	if cfg.Ingest.PreviewChars == 0 {
		cfg.Ingest.PreviewChars = 80
	}
	if cfg.Query.StoreURL == "" {
		cfg.Query.StoreURL = "http://localhost:9000"
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 20
	}
	if cfg.Query.TopM == 0 {
		cfg.Query.TopM = 5
	}
	if cfg.Query.TokenBudget == 0 {
		cfg.Query.TokenBudget = 2000
	}
	if cfg.Query.RefusalThreshold == 0 {
		cfg.Query.RefusalThreshold = 0.2
	}
	if cfg.Query.SearchTimeout == 0 {
		cfg.Query.SearchTimeout = 10 * time.Second
	}
	if cfg.Rerank.BaseURL == "" {
		cfg.Rerank.BaseURL = "http://localhost:8002"
	}
	if cfg.Rerank.Model == "" {
		cfg.Rerank.Model = "bge-reranker-v2-m3"
	}
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = 15 * time.Second
	}
	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "http://localhost:8000"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "GENERATION_API_KEY"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "Qwen3-8B"
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.7
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 60 * time.Second
	}
}
