package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/llasta/ragcore/internal/config"
	"github.com/llasta/ragcore/internal/embedding"
	"github.com/llasta/ragcore/internal/models"
)

func testConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	return config.StoreConfig{
		DataDir:            t.TempDir(),
		Metric:             "ip",
		CheckpointInterval: time.Hour,
		EmbedConcurrency:   2,
	}
}

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	st, err := Open(cfg, embedding.NewMockProvider(16), nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestStore_UpsertAndSelfRetrieval(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()
	ctx := context.Background()

	items := []models.UpsertItem{
		{ID: "a", Text: "the quick brown fox", Metadata: map[string]interface{}{"page": 1}},
		{ID: "b", Text: "an entirely different topic"},
		{ID: "c", Text: "yet another document"},
	}
	result, err := st.Upsert(ctx, items)
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 3 || len(result.Failed) != 0 {
		t.Fatalf("accepted=%d failed=%d", result.Accepted, len(result.Failed))
	}

	// Searching with a stored chunk's exact text must return that chunk first.
	for _, it := range items {
		hits, err := st.Search(ctx, it.Text, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) == 0 || hits[0].ID != it.ID {
			t.Errorf("self-retrieval for %s: got %+v", it.ID, hits)
		}
	}

	hits, _ := st.Search(ctx, "the quick brown fox", 3)
	if hits[0].Text != "the quick brown fox" {
		t.Errorf("result text = %q", hits[0].Text)
	}
	if hits[0].Metadata["page"] == nil {
		t.Error("metadata lost in round trip")
	}
}

func TestStore_UpsertReplacesExistingID(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()
	ctx := context.Background()

	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "x", Text: "old text"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "x", Text: "new text"}}); err != nil {
		t.Fatal(err)
	}

	stats := st.Stats()
	if stats.IndexSize != 1 || stats.MetadataSize != 1 {
		t.Fatalf("re-upsert grew the store: index=%d meta=%d", stats.IndexSize, stats.MetadataSize)
	}
	hits, _ := st.Search(ctx, "new text", 1)
	if hits[0].Text != "new text" {
		t.Errorf("expected replaced text, got %q", hits[0].Text)
	}
}

func TestStore_UpsertPartialValidation(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()

	result, err := st.Upsert(context.Background(), []models.UpsertItem{
		{ID: "good", Text: "valid chunk"},
		{ID: "", Text: "no id"},
		{ID: "empty", Text: ""},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 1 {
		t.Errorf("accepted=%d", result.Accepted)
	}
	if len(result.Failed) != 2 {
		t.Fatalf("failed=%d", len(result.Failed))
	}
	if st.Stats().IndexSize != 1 {
		t.Errorf("rejected items must not enter the index")
	}
}

func TestStore_SearchDeterministicOrdering(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()
	ctx := context.Background()

	items := make([]models.UpsertItem, 0, 10)
	for _, id := range []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "d9"} {
		items = append(items, models.UpsertItem{ID: id, Text: "document " + id})
	}
	if _, err := st.Upsert(ctx, items); err != nil {
		t.Fatal(err)
	}

	first, err := st.Search(ctx, "document query", 5)
	if err != nil {
		t.Fatal(err)
	}
	for trial := 0; trial < 5; trial++ {
		again, err := st.Search(ctx, "document query", 5)
		if err != nil {
			t.Fatal(err)
		}
		if len(again) != len(first) {
			t.Fatalf("result count changed: %d vs %d", len(again), len(first))
		}
		for i := range first {
			if again[i].ID != first[i].ID {
				t.Fatalf("ordering changed at %d: %s vs %s", i, again[i].ID, first[i].ID)
			}
		}
	}
}

func TestStore_SearchEmptyIndex(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()

	hits, err := st.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %d", len(hits))
	}
}

func TestStore_Reset(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "a", Text: "some text"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	stats := st.Stats()
	if stats.IndexSize != 0 || stats.MetadataSize != 0 {
		t.Fatalf("reset left data: index=%d meta=%d", stats.IndexSize, stats.MetadataSize)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Reset must also survive a restart.
	st2 := openTestStore(t, cfg)
	defer st2.Close()
	if st2.Stats().IndexSize != 0 {
		t.Errorf("reset did not persist, index=%d after reopen", st2.Stats().IndexSize)
	}
}

func TestStore_RestartRecoversCheckpoint(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, []models.UpsertItem{
		{ID: "a", Text: "persisted chunk", Metadata: map[string]interface{}{"doc_id": "d1"}},
		{ID: "b", Text: "another persisted chunk"},
	}); err != nil {
		t.Fatal(err)
	}
	// The batch checkpoint already ran; simulate a crash by not closing cleanly.
	st.stopOnce.Do(func() { close(st.stop) })
	<-st.done
	_ = st.meta.Close()

	st2 := openTestStore(t, cfg)
	defer st2.Close()
	stats := st2.Stats()
	if stats.IndexSize != 2 || stats.MetadataSize != 2 {
		t.Fatalf("recovered index=%d meta=%d", stats.IndexSize, stats.MetadataSize)
	}
	hits, err := st2.Search(ctx, "persisted chunk", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].ID != "a" {
		t.Errorf("self-retrieval after restart: got %s", hits[0].ID)
	}
	if hits[0].Metadata["doc_id"] != "d1" {
		t.Errorf("metadata after restart: %+v", hits[0].Metadata)
	}
}

func TestStore_CorruptStateRefusesStart(t *testing.T) {
	t.Run("unreadable snapshot", func(t *testing.T) {
		cfg := testConfig(t)
		st := openTestStore(t, cfg)
		if _, err := st.Upsert(context.Background(), []models.UpsertItem{{ID: "a", Text: "chunk"}}); err != nil {
			t.Fatal(err)
		}
		if err := st.Close(); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(cfg.IndexPath(), []byte("not a snapshot"), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Open(cfg, embedding.NewMockProvider(16), nil, zap.NewNop())
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})

	t.Run("vector without metadata", func(t *testing.T) {
		cfg := testConfig(t)
		st := openTestStore(t, cfg)
		if _, err := st.Upsert(context.Background(), []models.UpsertItem{{ID: "a", Text: "chunk"}}); err != nil {
			t.Fatal(err)
		}
		if err := st.Close(); err != nil {
			t.Fatal(err)
		}

		// Drop the metadata database but keep the snapshot: the index now
		// holds a vector no crash ordering can explain.
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(cfg.MetaPath() + suffix)
		}
		_, err := Open(cfg, embedding.NewMockProvider(16), nil, zap.NewNop())
		if !errors.Is(err, ErrCorrupt) {
			t.Fatalf("expected ErrCorrupt, got %v", err)
		}
	})
}

func TestStore_RecoversFromStaleSnapshot(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	ctx := context.Background()

	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "a", Text: "first batch chunk"}}); err != nil {
		t.Fatal(err)
	}
	snapshot, err := os.ReadFile(cfg.IndexPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "b", Text: "second batch chunk"}}); err != nil {
		t.Fatal(err)
	}
	// Crash without a clean shutdown, then roll the snapshot back to the
	// pre-batch-2 state: exactly the files a crash between the sqlite commit
	// and the snapshot rename leaves behind.
	st.stopOnce.Do(func() { close(st.stop) })
	<-st.done
	_ = st.meta.Close()
	if err := os.WriteFile(cfg.IndexPath(), snapshot, 0644); err != nil {
		t.Fatal(err)
	}

	st2 := openTestStore(t, cfg)
	defer st2.Close()
	stats := st2.Stats()
	if stats.IndexSize != 1 || stats.MetadataSize != 1 {
		t.Fatalf("recovered index=%d meta=%d", stats.IndexSize, stats.MetadataSize)
	}
	hits, err := st2.Search(ctx, "first batch chunk", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("batch 1 not served after recovery: %+v", hits)
	}

	// Replaying the lost batch brings the store back to full.
	if _, err := st2.Upsert(ctx, []models.UpsertItem{{ID: "b", Text: "second batch chunk"}}); err != nil {
		t.Fatal(err)
	}
	if st2.Stats().IndexSize != 2 {
		t.Fatalf("replay did not restore batch 2: index=%d", st2.Stats().IndexSize)
	}
}

func TestStore_MissingSnapshotTrimsMetadata(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	if _, err := st.Upsert(context.Background(), []models.UpsertItem{{ID: "a", Text: "chunk"}}); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// No snapshot at all is the crash-before-first-checkpoint case: start
	// empty and let ingestion replay.
	if err := os.Remove(cfg.IndexPath()); err != nil {
		t.Fatal(err)
	}
	st2 := openTestStore(t, cfg)
	defer st2.Close()
	if stats := st2.Stats(); stats.IndexSize != 0 || stats.MetadataSize != 0 {
		t.Fatalf("expected empty store, got index=%d meta=%d", stats.IndexSize, stats.MetadataSize)
	}
}

// truncatingEmbedder returns a wrong-width vector for one designated text.
type truncatingEmbedder struct {
	embedding.Provider
	badText string
}

func (e *truncatingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.Provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, text := range texts {
		if text == e.badText {
			vecs[i] = vecs[i][:3]
		}
	}
	return vecs, nil
}

func TestStore_UpsertDimensionMismatchFailsPerItem(t *testing.T) {
	cfg := testConfig(t)
	embedder := &truncatingEmbedder{Provider: embedding.NewMockProvider(16), badText: "short vector"}
	st, err := Open(cfg, embedder, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	result, err := st.Upsert(context.Background(), []models.UpsertItem{
		{ID: "good", Text: "full width chunk"},
		{ID: "bad", Text: "short vector"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Accepted != 1 {
		t.Errorf("accepted=%d", result.Accepted)
	}
	if len(result.Failed) != 1 || result.Failed[0].ID != "bad" {
		t.Fatalf("failed=%+v", result.Failed)
	}
	if !strings.Contains(result.Failed[0].Reason, "dimension mismatch") {
		t.Errorf("reason=%q", result.Failed[0].Reason)
	}
	if st.Stats().IndexSize != 1 {
		t.Errorf("wrong-width item entered the index")
	}
}

func TestStore_ConcurrentSameIDUpsertsStayConsistent(t *testing.T) {
	cfg := testConfig(t)
	st := openTestStore(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, text := range []string{"alpha variant", "beta variant"} {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "x", Text: text}}); err != nil {
					t.Error(err)
					return
				}
			}
		}(text)
	}
	wg.Wait()
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// Whichever write won, the persisted text and vector must belong to the
	// same write: embedding the stored text ranks it first with a self
	// similarity of 1.
	st2 := openTestStore(t, cfg)
	defer st2.Close()
	rec, ok := st2.records["x"]
	if !ok {
		t.Fatal("record lost across restart")
	}
	hits, err := st2.Search(ctx, rec.Text, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "x" || hits[0].Score < 0.999 {
		t.Fatalf("stored text does not match stored vector: %+v", hits)
	}
}

func TestStore_ConcurrentSearchDuringUpsert(t *testing.T) {
	st := openTestStore(t, testConfig(t))
	defer st.Close()
	ctx := context.Background()

	if _, err := st.Upsert(ctx, []models.UpsertItem{{ID: "seed", Text: "seed chunk"}}); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_, _ = st.Upsert(ctx, []models.UpsertItem{
				{ID: "a", Text: "first of pair"},
				{ID: "b", Text: "second of pair"},
			})
		}
	}()
	for i := 0; i < 50; i++ {
		hits, err := st.Search(ctx, "seed chunk", 10)
		if err != nil {
			t.Fatal(err)
		}
		// A batch is visible atomically: either neither of the pair or both.
		var sawA, sawB bool
		for _, h := range hits {
			if h.ID == "a" {
				sawA = true
			}
			if h.ID == "b" {
				sawB = true
			}
		}
		if sawA != sawB {
			t.Fatalf("partial batch visible: a=%v b=%v", sawA, sawB)
		}
	}
	<-done
}
