package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  port: 9999
store:
  data_dir: ./data
  metric: l2
embedding:
  base_url: mock
  dimensions: 16
ingest:
  manifest_path: ./manifest.db
  segmenter: window
  chunk_size: 200
query:
  top_k: 10
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug not set")
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port=%d", cfg.Server.Port)
	}
	if cfg.Store.Metric != "l2" {
		t.Errorf("metric=%s", cfg.Store.Metric)
	}
	if cfg.Embedding.Dimensions != 16 {
		t.Errorf("dimensions=%d", cfg.Embedding.Dimensions)
	}
	if cfg.Ingest.Segmenter != "window" || cfg.Ingest.ChunkSize != 200 {
		t.Errorf("ingest=%+v", cfg.Ingest)
	}
	if cfg.Query.TopK != 10 {
		t.Errorf("top_k=%d", cfg.Query.TopK)
	}

	// Relative ./ paths resolve against the config file's directory.
	if cfg.Store.DataDir != filepath.Join(dir, "data") {
		t.Errorf("data_dir=%s", cfg.Store.DataDir)
	}
	if cfg.Ingest.ManifestPath != filepath.Join(dir, "manifest.db") {
		t.Errorf("manifest_path=%s", cfg.Ingest.ManifestPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.Server.Port != 9000 || cfg.Server.QueryPort != 8080 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Store.Metric != "ip" {
		t.Errorf("metric default=%s", cfg.Store.Metric)
	}
	if cfg.Store.CheckpointInterval != 60*time.Second {
		t.Errorf("checkpoint_interval=%s", cfg.Store.CheckpointInterval)
	}
	if cfg.Embedding.Model != "bge-m3" || cfg.Embedding.Dimensions != 1024 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Ingest.BatchSize != 64 || cfg.Ingest.MaxInFlight != 4 {
		t.Errorf("ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Ingest.Segmenter != "page" || cfg.Ingest.MinChunkChars != 20 {
		t.Errorf("segmenter defaults: %+v", cfg.Ingest)
	}
	if cfg.Query.TopK != 20 || cfg.Query.TopM != 5 || cfg.Query.TokenBudget != 2000 {
		t.Errorf("query defaults: %+v", cfg.Query)
	}
	if cfg.Query.RefusalThreshold != 0.2 {
		t.Errorf("refusal_threshold=%f", cfg.Query.RefusalThreshold)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Ingest.BatchSize = 8
	cfg.Query.TopM = 3
	ApplyDefaults(&cfg)
	if cfg.Ingest.BatchSize != 8 {
		t.Errorf("batch_size overwritten: %d", cfg.Ingest.BatchSize)
	}
	if cfg.Query.TopM != 3 {
		t.Errorf("top_m overwritten: %d", cfg.Query.TopM)
	}
}

func TestStoreConfigPaths(t *testing.T) {
	s := StoreConfig{DataDir: "/var/lib/ragcore"}
	if s.IndexPath() != "/var/lib/ragcore/index.bin" {
		t.Errorf("IndexPath=%s", s.IndexPath())
	}
	if s.MetaPath() != "/var/lib/ragcore/meta.db" {
		t.Errorf("MetaPath=%s", s.MetaPath())
	}
}
