// Package store implements the vector store: an exhaustive similarity index
// paired with a metadata store, kept consistent under a single-writer
// discipline and persisted via snapshot checkpoints.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/embedding"
	"github.com/llasta/ragcore/internal/metrics"
	"github.com/llasta/ragcore/internal/models"
	"github.com/llasta/ragcore/internal/vector"
)

// ErrCorrupt marks persisted state that fails the referential integrity check
// at startup and cannot be explained by a crash: a vector with no metadata
// entry, or an unreadable snapshot. The store refuses to start rather than
// serve an inconsistent view; recovery requires a restore or an explicit reset
// of the data dir.
var ErrCorrupt = errors.New("store state corrupt")

// embedSubBatch is the number of texts per concurrent embedding call.
const embedSubBatch = 16

// Store owns the similarity index and the id→(text, metadata) map. Upserts are
// serialized (single writer); searches share a read lock and observe either
// the pre- or post-batch state of an overlapping upsert, never a partial one.
type Store struct {
	cfg      config.StoreConfig
	embedder embedding.Provider
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.RWMutex
	index   vector.Index
	records map[string]ChunkRecord
	meta    *MetaStore

	checkpointMu sync.Mutex // serializes snapshot writes
	dirty        bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Open loads the last checkpoint in full and verifies referential integrity
// between the index and the metadata store before returning. Metadata is
// committed before the snapshot, so a crash can only leave metadata rows with
// no vector; those are trimmed (ingestion replays the lost batch from its
// manifest). A vector with no metadata entry or an unreadable snapshot has no
// such explanation and returns an error wrapping ErrCorrupt.
func Open(cfg config.StoreConfig, embedder embedding.Provider, m *metrics.Metrics, logger *zap.Logger) (*Store, error) {
	metric, err := vector.ParseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	idx, err := vector.NewFlatIndex(embedder.Dimensions(), metric)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(cfg.IndexPath()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	meta, err := OpenMetaStore(cfg.MetaPath())
	if err != nil {
		return nil, err
	}
	records, err := meta.LoadAll(context.Background())
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("%w: load metadata: %v", ErrCorrupt, err)
	}
	var orphans []string
	for id := range records {
		if !idx.Has(id) {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		if err := meta.Delete(context.Background(), orphans); err != nil {
			_ = meta.Close()
			return nil, fmt.Errorf("trim orphan metadata: %w", err)
		}
		for _, id := range orphans {
			delete(records, id)
		}
		logger.Warn("trimmed metadata rows with no vector after crash",
			zap.Int("count", len(orphans)))
	}
	if idx.Size() != len(records) {
		_ = meta.Close()
		return nil, fmt.Errorf("%w: index has %d vectors but metadata has %d entries",
			ErrCorrupt, idx.Size(), len(records))
	}

	s := &Store{
		cfg:      cfg,
		embedder: embedder,
		metrics:  m,
		logger:   logger,
		index:    idx,
		records:  records,
		meta:     meta,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if m != nil {
		m.SetStoreSize(idx.Size(), len(records))
		m.SetEmbeddingDimension(embedder.Dimensions())
	}
	go s.checkpointLoop()

	logger.Info("store loaded",
		zap.Int("index_size", idx.Size()),
		zap.Int("dimension", embedder.Dimensions()),
		zap.String("metric", string(metric)),
	)
	return s, nil
}

// Upsert validates, embeds, and applies a batch. Malformed items are rejected
// per item and reported in the result; the remainder is applied atomically
// under the writer lock and checkpointed before returning. Re-upserting an
// existing id replaces its vector and metadata; index size is unchanged.
func (s *Store) Upsert(ctx context.Context, items []models.UpsertItem) (*models.UpsertResult, error) {
	result := &models.UpsertResult{Failed: []models.UpsertFailure{}}
	valid := make([]models.UpsertItem, 0, len(items))
	for _, it := range items {
		if err := it.Validate(); err != nil {
			result.Failed = append(result.Failed, models.UpsertFailure{ID: it.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, it)
	}
	if len(valid) == 0 {
		return result, nil
	}

	// Embedding happens before the writer lock: it has no shared-state side
	// effects and must not block concurrent searches.
	vectors, err := s.embedAll(ctx, valid)
	if err != nil {
		return nil, err
	}

	// A gateway vector of the wrong width fails that item, not the batch.
	dims := s.embedder.Dimensions()
	kept := valid[:0]
	keptVecs := vectors[:0]
	for i, vec := range vectors {
		if len(vec) != dims {
			result.Failed = append(result.Failed, models.UpsertFailure{
				ID:     valid[i].ID,
				Reason: fmt.Sprintf("embedding dimension mismatch: got %d, expected %d", len(vec), dims),
			})
			continue
		}
		kept = append(kept, valid[i])
		keptVecs = append(keptVecs, vec)
	}
	if len(kept) == 0 {
		return result, nil
	}

	ids := make([]string, len(kept))
	records := make([]ChunkRecord, len(kept))
	for i, it := range kept {
		ids[i] = it.ID
		records[i] = ChunkRecord{ID: it.ID, Text: it.Text, Metadata: it.Metadata}
	}

	// The sqlite write stays inside the writer window so racing upserts of the
	// same id land in one order across both stores. Metadata commits first: a
	// failure past that point leaves orphan rows, which startup trims.
	s.mu.Lock()
	if err := s.meta.UpsertBatch(ctx, records); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("persist metadata: %w", err)
	}
	if err := s.index.Add(ids, keptVecs); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	indexSize, metaSize := s.index.Size(), len(s.records)
	s.mu.Unlock()

	if err := s.checkpoint(); err != nil {
		// Batch is applied in memory and metadata is durable; leave the
		// snapshot to the periodic loop and surface the failure.
		s.markDirty()
		return nil, err
	}

	result.Accepted = len(kept)
	if s.metrics != nil {
		s.metrics.AddUpserted(len(kept))
		s.metrics.SetStoreSize(indexSize, metaSize)
	}
	s.logger.Debug("upsert applied",
		zap.Int("accepted", result.Accepted),
		zap.Int("failed", len(result.Failed)),
		zap.Int("index_size", indexSize),
	)
	return result, nil
}

// embedAll embeds the batch in bounded-concurrency sub-batches, preserving order.
func (s *Store) embedAll(ctx context.Context, items []models.UpsertItem) ([][]float32, error) {
	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	workers := s.cfg.EmbedConcurrency
	if workers <= 0 {
		workers = 1
	}

	vectors := make([][]float32, len(texts))
	sem := make(chan struct{}, workers)
	errCh := make(chan error, 1)
	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += embedSubBatch {
		end := start + embedSubBatch
		if end > len(texts) {
			end = len(texts)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			vecs, err := s.embedder.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				select {
				case errCh <- err:
				default:
				}
				return
			}
			copy(vectors[start:end], vecs)
		}(start, end)
	}
	wg.Wait()
	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return vectors, nil
}

// Search embeds the query and returns the top-k hits against a consistent
// snapshot of the index. An empty index yields an empty list.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	hits, err := s.index.Search(vec, k)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		rec, ok := s.records[h.ID]
		if !ok {
			// Should be unreachable given the integrity invariant.
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: vector %s has no metadata entry", ErrCorrupt, h.ID)
		}
		results = append(results, models.SearchResult{
			ID:       rec.ID,
			Text:     rec.Text,
			Metadata: rec.Metadata,
			Score:    h.Score,
		})
	}
	s.mu.RUnlock()

	if s.metrics != nil {
		s.metrics.ObserveSearch(len(results))
	}
	return results, nil
}

// Reset irreversibly clears the index and metadata and rewrites the persisted
// files. It takes the exclusive lock, so it waits for in-flight operations and
// blocks new ones until done.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index.Reset()
	s.records = make(map[string]ChunkRecord)
	if err := s.meta.Truncate(ctx); err != nil {
		return fmt.Errorf("truncate metadata: %w", err)
	}
	s.checkpointMu.Lock()
	err := s.index.Save(s.cfg.IndexPath())
	s.checkpointMu.Unlock()
	if err != nil {
		return fmt.Errorf("rewrite snapshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetStoreSize(0, 0)
	}
	s.logger.Info("store reset")
	return nil
}

// Stats returns a read-only snapshot of store sizes.
func (s *Store) Stats() models.StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.StoreStats{
		IndexSize:    s.index.Size(),
		MetadataSize: len(s.records),
		Dimension:    s.embedder.Dimensions(),
		Model:        s.embedder.Model(),
	}
}

// checkpoint writes the index snapshot. Metadata is already write-through.
func (s *Store) checkpoint() error {
	s.checkpointMu.Lock()
	defer s.checkpointMu.Unlock()
	s.mu.RLock()
	err := s.index.Save(s.cfg.IndexPath())
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *Store) markDirty() {
	s.checkpointMu.Lock()
	s.dirty = true
	s.checkpointMu.Unlock()
}

// checkpointLoop writes periodic snapshots as a safety net; the primary
// checkpoint happens after every upsert batch.
func (s *Store) checkpointLoop() {
	defer close(s.done)
	interval := s.cfg.CheckpointInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.checkpointMu.Lock()
			dirty := s.dirty
			s.checkpointMu.Unlock()
			if !dirty {
				continue
			}
			if err := s.checkpoint(); err != nil {
				s.logger.Error("periodic checkpoint failed", zap.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the checkpoint loop, writes a final snapshot, and closes the
// metadata store.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	if err := s.checkpoint(); err != nil {
		s.logger.Error("final checkpoint failed", zap.Error(err))
	}
	return s.meta.Close()
}
