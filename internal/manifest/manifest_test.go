package manifest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/llasta/ragcore/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func entry(docID, chunkID, rowHash string, page int) models.ManifestEntry {
	return models.ManifestEntry{
		DocID:          docID,
		ChunkID:        chunkID,
		RowHash:        rowHash,
		EmbeddingModel: "bge-m3",
		Dim:            1024,
		Timestamp:      time.Now().UTC(),
		SourceURI:      "file:///docs/" + docID + ".pdf",
		Page:           page,
		TokenCount:     42,
		Lang:           "en",
		SchemaVersion:  models.ManifestSchemaVersion,
	}
}

func TestStore_AppendAndEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.Append(ctx, []models.ManifestEntry{
		entry("doc1", "doc1#page-0001", "hash1", 1),
		entry("doc1", "doc1#page-0002", "hash2", 2),
	})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.Entries(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	e := entries[0]
	if e.ChunkID != "doc1#page-0001" || e.Page != 1 || e.Lang != "en" {
		t.Errorf("entry=%+v", e)
	}
	if e.SchemaVersion != models.ManifestSchemaVersion {
		t.Errorf("schema_version=%d", e.SchemaVersion)
	}
}

func TestStore_AppendIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	batch := []models.ManifestEntry{entry("doc1", "doc1#page-0001", "hash1", 1)}
	if err := s.Append(ctx, batch); err != nil {
		t.Fatal(err)
	}
	// Replaying the same batch after a crash must not duplicate rows.
	if err := s.Append(ctx, batch); err != nil {
		t.Fatal(err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count=%d after replay", n)
	}
}

func TestStore_HasRowHash(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, []models.ManifestEntry{entry("doc1", "doc1#page-0001", "hash1", 1)}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.HasRowHash(ctx, "doc1", "hash1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("known row_hash not found")
	}
	ok, _ = s.HasRowHash(ctx, "doc1", "other")
	if ok {
		t.Error("unknown row_hash reported present")
	}
	// Dedupe is scoped per document.
	ok, _ = s.HasRowHash(ctx, "doc2", "hash1")
	if ok {
		t.Error("row_hash leaked across documents")
	}
}

func TestStore_ChunkIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, []models.ManifestEntry{
		entry("doc1", "doc1#page-0001", "h1", 1),
		entry("doc1", "doc1#page-0002", "h2", 2),
		entry("doc2", "doc2#page-0001", "h3", 1),
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := s.ChunkIDs(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || !ids["doc1#page-0001"] || !ids["doc1#page-0002"] {
		t.Errorf("ids=%v", ids)
	}
	if ids["doc2#page-0001"] {
		t.Error("chunk id from another document returned")
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Append(ctx, []models.ManifestEntry{entry("doc1", "doc1#page-0001", "h1", 1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	n, err := s2.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count=%d after reopen", n)
	}
}
