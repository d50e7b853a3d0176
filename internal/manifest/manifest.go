// Package manifest provides the append-only ingestion audit log backed by
// SQLite. The manifest is the pipeline's durable checkpoint: resumption and
// dedupe both read from it, and the query path never touches it.
package manifest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llasta/ragcore/internal/models"
)

// Store appends and queries manifest entries.
type Store struct {
	db *sql.DB
}

// Open opens or creates the manifest database at dbPath and initializes the
// schema. Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS manifest (
		doc_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		row_hash TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		dim INTEGER NOT NULL,
		ts TIMESTAMP NOT NULL,
		source_uri TEXT NOT NULL,
		page INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		lang TEXT,
		schema_version INTEGER NOT NULL,
		PRIMARY KEY (doc_id, chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_manifest_doc_hash ON manifest(doc_id, row_hash);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize manifest schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes entries in one transaction. Re-appending an existing
// (doc_id, chunk_id) is ignored, which keeps replay after a crash idempotent.
func (s *Store) Append(ctx context.Context, entries []models.ManifestEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO manifest
		 (doc_id, chunk_id, row_hash, embedding_model, dim, ts, source_uri, page, token_count, lang, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.DocID, e.ChunkID, e.RowHash, e.EmbeddingModel, e.Dim, e.Timestamp,
			e.SourceURI, e.Page, e.TokenCount, e.Lang, e.SchemaVersion,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// HasRowHash reports whether the manifest already holds row_hash for doc_id,
// meaning that content was ingested before.
func (s *Store) HasRowHash(ctx context.Context, docID, rowHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM manifest WHERE doc_id = ? AND row_hash = ?`, docID, rowHash,
	).Scan(&n)
	return n > 0, err
}

// ChunkIDs returns the chunk ids already committed for doc_id. Used on resume
// to skip units that were durably ingested before a crash or cancellation.
func (s *Store) ChunkIDs(ctx context.Context, docID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM manifest WHERE doc_id = ?`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Entries returns all manifest rows for doc_id, for audit.
func (s *Store) Entries(ctx context.Context, docID string) ([]models.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, chunk_id, row_hash, embedding_model, dim, ts, source_uri, page, token_count, lang, schema_version
		 FROM manifest WHERE doc_id = ? ORDER BY chunk_id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []models.ManifestEntry
	for rows.Next() {
		var e models.ManifestEntry
		var lang sql.NullString
		if err := rows.Scan(&e.DocID, &e.ChunkID, &e.RowHash, &e.EmbeddingModel, &e.Dim,
			&e.Timestamp, &e.SourceURI, &e.Page, &e.TokenCount, &lang, &e.SchemaVersion); err != nil {
			return nil, err
		}
		e.Lang = lang.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of manifest entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM manifest`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
