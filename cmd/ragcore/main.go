// Package main is the ragcore CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
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
	"github.com/llasta/ragcore/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ragcore/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists it
// is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "store":
		runStore()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "ask":
		runAsk()
	case "version", "--version", "-v":
		fmt.Printf("ragcore version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// newEmbedder builds the embedding provider from config. A base URL of "mock"
// selects the deterministic in-process embedder, used in development and tests.
func newEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	if cfg.BaseURL == "mock" {
		return embedding.NewMockProvider(cfg.Dimensions), nil
	}
	return embedding.NewClient(embedding.ClientConfig{
		BaseURL:    cfg.BaseURL,
		APIKeyEnv:  cfg.APIKeyEnv,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
	})
}

func runStore() {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}

	m := metrics.New("ragstore")
	st, err := store.Open(cfg.Store, embedder, m, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}

	srv := server.NewServer(st, m, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	if err := st.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	dryRun := fs.Bool("dry-run", false, "extract and segment only; do not upsert or write the manifest")
	maxChunks := fs.Int("max-chunks", 0, "stop after this many chunks across the run (0 = no cap)")
	_ = fs.Parse(os.Args[2:])

	paths := fs.Args()
	if len(paths) == 0 {
		fmt.Println("Usage: ragcore ingest [flags] <file> [file...]")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *maxChunks > 0 {
		cfg.Ingest.MaxChunks = *maxChunks
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	man, err := manifest.Open(cfg.Ingest.ManifestPath)
	if err != nil {
		logger.Fatal("Failed to open manifest", zap.Error(err))
	}
	defer man.Close()

	client := storeclient.New(cfg.Ingest.StoreURL, cfg.Ingest.HTTPTimeout, cfg.Ingest.MaxAttempts)
	pipeline, err := ingest.NewPipeline(cfg.Ingest, man, client, cfg.Embedding.Model, cfg.Embedding.Dimensions, logger)
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report, runErr := pipeline.Run(ctx, paths, *dryRun)
	printIngestReport(report)
	if runErr != nil {
		logger.Error("ingest run aborted", zap.Error(runErr))
		os.Exit(1)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func printIngestReport(report *ingest.RunReport) {
	if report == nil {
		return
	}
	fmt.Printf("Run %s", report.RunID)
	if report.DryRun {
		fmt.Print(" (dry run)")
	}
	fmt.Println()
	for _, doc := range report.Docs {
		status := "ok"
		if len(doc.Failed) > 0 {
			status = fmt.Sprintf("failed at %s", doc.Stage)
		}
		fmt.Printf("  %-40s upserted=%d skipped=%d failed=%d [%s]\n",
			doc.DocID, doc.Upserted, doc.Skipped, len(doc.Failed), status)
	}
	fmt.Printf("Total: upserted=%d skipped=%d failed=%d\n",
		report.Upserted, report.Skipped, report.Failed)
}

// buildQueryPipeline wires the query pipeline with its store client and
// generation gateway client.
func buildQueryPipeline(cfg *config.Config, logger *zap.Logger) (*query.Pipeline, *storeclient.Client, *query.ChatClient) {
	client := storeclient.New(cfg.Query.StoreURL, cfg.Query.SearchTimeout, 1)
	reranker := rerank.NewClient(cfg.Rerank.BaseURL, cfg.Rerank.Model, cfg.Rerank.Timeout)
	generator := query.NewChatClient(cfg.Generation)
	return query.NewPipeline(client, reranker, generator, cfg.Query, logger), client, generator
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	pipeline, client, generator := buildQueryPipeline(cfg, logger)
	srv := query.NewServer(pipeline, client, generator, cfg.Server.Host, cfg.Server.QueryPort, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Query server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	asJSON := fs.Bool("json", false, "print the full response as JSON")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: ragcore ask [flags] <question>")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pipeline, _, _ := buildQueryPipeline(cfg, logger)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	resp, err := pipeline.Answer(ctx, &models.ChatRequest{
		Messages: []models.ChatMessage{{Role: "user", Content: question}},
	})
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		data, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Println(resp.Answer)
	if len(resp.Citations) > 0 {
		fmt.Println("\nSources:")
		for i, c := range resp.Citations {
			fmt.Printf("  [%d] %s p.%d (score %.3f)\n", i+1, c.SourceURI, c.Page, c.Score)
		}
	}
	if resp.Degraded {
		fmt.Println("\n(note: reranker unavailable, results use retrieval order)")
	}
}

func printUsage() {
	fmt.Println(`ragcore - retrieval-augmented generation core services

Usage:
  ragcore <command> [flags]

Commands:
  store     Run the vector store HTTP service
  ingest    Ingest documents into the store
  query     Run the query (chat) HTTP service
  ask       Answer a single question from the command line
  version   Print version
  help      Show this help

Use "ragcore <command> -h" for command flags.`)
}
