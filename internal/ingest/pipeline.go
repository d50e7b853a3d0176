package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/extract"
	"github.com/llasta/ragcore/internal/manifest"
	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/pkg/utils"
)

// Upserter sends chunk batches to the vector store.
type Upserter interface {
	Upsert(ctx context.Context, items []models.UpsertItem) (*models.UpsertResult, error)
}

// Pipeline drives extract → clean → dedupe → segment → upsert → manifest for a
// set of source documents. A run is cancellable; cancellation leaves the
// manifest at the last durable checkpoint and the run can be resumed.
type Pipeline struct {
	extractor *extract.Extractor
	segmenter *Segmenter
	manifest  *manifest.Store
	upserter  Upserter
	cfg       config.IngestConfig
	embModel  string
	embDim    int
	logger    *zap.Logger
}

// DocReport is the outcome for one source document.
type DocReport struct {
	DocID     string
	SourceURI string
	Stage     Stage
	Pages     int
	Chunks    int
	// Skipped counts chunks dropped as duplicates (manifest row_hash or
	// already-committed chunk id on resume).
	Skipped  int
	Upserted int
	Failed   []models.UpsertFailure
	Err      *StageError
}

// RunReport aggregates a full ingestion run.
type RunReport struct {
	RunID    string
	DryRun   bool
	Docs     []*DocReport
	Upserted int
	Skipped  int
	Failed   int
}

// NewPipeline creates a pipeline. embModel and embDim are recorded in every
// manifest entry for audit.
func NewPipeline(
	cfg config.IngestConfig,
	man *manifest.Store,
	upserter Upserter,
	embModel string,
	embDim int,
	logger *zap.Logger,
) (*Pipeline, error) {
	seg, err := NewSegmenter(cfg.Segmenter, cfg.ChunkSize, cfg.ChunkOverlap, cfg.MinChunkChars)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		extractor: extract.NewExtractor(),
		segmenter: seg,
		manifest:  man,
		upserter:  upserter,
		cfg:       cfg,
		embModel:  embModel,
		embDim:    embDim,
		logger:    logger,
	}, nil
}

// Run processes the given source files. When dryRun is set, the pipeline stops
// after segmentation and reports what would be upserted. Returns ctx.Err() if
// cancelled between units.
func (p *Pipeline) Run(ctx context.Context, paths []string, dryRun bool) (*RunReport, error) {
	report := &RunReport{RunID: uuid.New().String(), DryRun: dryRun}
	remaining := p.cfg.MaxChunks // 0 means no cap

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		doc := p.processDocument(ctx, path, dryRun, &remaining)
		report.Docs = append(report.Docs, doc)
		report.Upserted += doc.Upserted
		report.Skipped += doc.Skipped
		report.Failed += len(doc.Failed)
	}
	p.logger.Info("ingest run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("dry_run", dryRun),
		zap.Int("docs", len(report.Docs)),
		zap.Int("upserted", report.Upserted),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

func (p *Pipeline) processDocument(ctx context.Context, path string, dryRun bool, remaining *int) *DocReport {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := &DocReport{
		DocID:     docID,
		SourceURI: "file://" + abs,
		Stage:     StagePending,
	}

	doc.Stage = StageExtracting
	if _, err := os.Stat(path); err != nil {
		doc.Err = failAt(StageExtracting, err)
		return doc
	}
	rawPages, err := p.extractor.Extract(path)
	if err != nil {
		doc.Err = failAt(StageExtracting, err)
		return doc
	}
	doc.Pages = len(rawPages)

	doc.Stage = StageCleaning
	cleaned := make([]string, len(rawPages))
	for i, raw := range rawPages {
		cleaned[i] = CleanText(raw)
	}

	doc.Stage = StageSegmenting
	drafts := p.segmenter.Segment(docID, cleaned)

	// Dedupe against the manifest (same content ingested before) and against
	// this run; on resume, chunk ids already committed are skipped too.
	committed, err := p.manifest.ChunkIDs(ctx, docID)
	if err != nil {
		doc.Err = failAt(StageSegmenting, fmt.Errorf("read manifest: %w", err))
		return doc
	}
	seen := make(map[string]bool)
	kept := drafts[:0]
	for _, d := range drafts {
		if committed[d.ID] {
			doc.Skipped++
			continue
		}
		dup, err := p.manifest.HasRowHash(ctx, docID, d.RowHash)
		if err != nil {
			doc.Err = failAt(StageSegmenting, fmt.Errorf("read manifest: %w", err))
			return doc
		}
		if dup || seen[d.RowHash] {
			p.logger.Debug("skipping duplicate chunk",
				zap.String("chunk_id", d.ID),
				zap.String("row_hash", utils.Truncate(d.RowHash, 16)),
			)
			doc.Skipped++
			continue
		}
		seen[d.RowHash] = true
		kept = append(kept, d)
	}
	drafts = kept
	if p.cfg.MaxChunks > 0 {
		if *remaining <= 0 {
			drafts = nil
		} else if len(drafts) > *remaining {
			drafts = drafts[:*remaining]
		}
		*remaining -= len(drafts)
	}
	doc.Chunks = len(drafts)

	if dryRun || len(drafts) == 0 {
		doc.Stage = StageDone
		return doc
	}

	doc.Stage = StageUpserting
	if err := p.upsertAll(ctx, doc, drafts); err != nil {
		if stageErr, ok := err.(*StageError); ok {
			doc.Stage = stageErr.Stage
			doc.Err = stageErr
		} else {
			doc.Err = failAt(doc.Stage, err)
		}
		return doc
	}
	doc.Stage = StageDone
	return doc
}

// upsertAll sends drafts in bounded-size batches with a fixed cap on
// simultaneously in-flight batches. Per-item failures are collected, not
// fatal. Each successful batch is checkpointed to the manifest before the
// next report update, so a crash never loses committed work.
func (p *Pipeline) upsertAll(ctx context.Context, doc *DocReport, drafts []Draft) error {
	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}
	workers := p.cfg.MaxInFlight
	if workers <= 0 {
		workers = 1
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	sem := make(chan struct{}, workers)

	for start := 0; start < len(drafts); start += batchSize {
		if err := ctx.Err(); err != nil {
			break
		}
		end := start + batchSize
		if end > len(drafts) {
			end = len(drafts)
		}
		batch := drafts[start:end]

		wg.Add(1)
		sem <- struct{}{}
		go func(batch []Draft) {
			defer wg.Done()
			defer func() { <-sem }()

			upserted, failed, err := p.upsertBatch(ctx, doc, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			doc.Upserted += upserted
			doc.Failed = append(doc.Failed, failed...)
		}(batch)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

func (p *Pipeline) upsertBatch(ctx context.Context, doc *DocReport, batch []Draft) (int, []models.UpsertFailure, error) {
	items := make([]models.UpsertItem, len(batch))
	for i, d := range batch {
		items[i] = models.UpsertItem{
			ID:   d.ID,
			Text: d.Text,
			Metadata: map[string]interface{}{
				"doc_id":     doc.DocID,
				"source_uri": fmt.Sprintf("%s#page=%d", doc.SourceURI, d.Page),
				"page":       d.Page,
				"lang":       p.cfg.Lang,
			},
		}
	}
	if len(batch) > 0 {
		p.logger.Debug("upserting batch",
			zap.Int("size", len(batch)),
			zap.String("first_id", batch[0].ID),
			zap.String("preview", utils.Truncate(batch[0].Text, p.cfg.PreviewChars)),
		)
	}

	result, err := p.upserter.Upsert(ctx, items)
	if err != nil {
		return 0, nil, err
	}

	failedIDs := make(map[string]bool, len(result.Failed))
	for _, f := range result.Failed {
		failedIDs[f.ID] = true
	}

	// Manifest append is the durable checkpoint: only accepted chunks are
	// recorded, and only after the store confirmed them.
	now := time.Now().UTC()
	entries := make([]models.ManifestEntry, 0, len(batch))
	for _, d := range batch {
		if failedIDs[d.ID] {
			continue
		}
		entries = append(entries, models.ManifestEntry{
			DocID:          doc.DocID,
			ChunkID:        d.ID,
			RowHash:        d.RowHash,
			EmbeddingModel: p.embModel,
			Dim:            p.embDim,
			Timestamp:      now,
			SourceURI:      fmt.Sprintf("%s#page=%d", doc.SourceURI, d.Page),
			Page:           d.Page,
			TokenCount:     d.TokenCount,
			Lang:           p.cfg.Lang,
			SchemaVersion:  models.ManifestSchemaVersion,
		})
	}
	if err := p.manifest.Append(ctx, entries); err != nil {
		return 0, nil, failAt(StageManifestWriting, fmt.Errorf("write manifest: %w", err))
	}
	return len(entries), result.Failed, nil
}
