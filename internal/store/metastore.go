package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ChunkRecord is the id→(text, metadata) half of the store.
type ChunkRecord struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
}

// MetaStore persists chunk records in SQLite. It is owned exclusively by the
// vector store; writes happen only under the store's writer lock.
type MetaStore struct {
	db *sql.DB
}

// OpenMetaStore opens or creates the metadata database at dbPath and
// initializes the schema. Parent directories are created if they do not exist.
func OpenMetaStore(dbPath string) (*MetaStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize metadata schema: %w", err)
	}
	return &MetaStore{db: db}, nil
}

// LoadAll reads every chunk record. Called once at startup before the store
// accepts traffic.
func (m *MetaStore) LoadAll(ctx context.Context) (map[string]ChunkRecord, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT id, text, metadata FROM chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make(map[string]ChunkRecord)
	for rows.Next() {
		var rec ChunkRecord
		var metadataJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Text, &metadataJSON); err != nil {
			return nil, err
		}
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", rec.ID, err)
			}
		}
		records[rec.ID] = rec
	}
	return records, rows.Err()
}

// UpsertBatch writes records in one transaction, replacing existing ids.
func (m *MetaStore) UpsertBatch(ctx context.Context, records []ChunkRecord) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, text, metadata, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET text = excluded.text, metadata = excluded.metadata, updated_at = excluded.updated_at`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, rec := range records {
		metadataJSON, err := json.Marshal(rec.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to marshal metadata for %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.Text, string(metadataJSON), now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Delete removes the records with the given ids in one transaction.
func (m *MetaStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM chunks WHERE id = ?`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Truncate removes all records.
func (m *MetaStore) Truncate(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `DELETE FROM chunks`)
	return err
}

// Count returns the number of stored records.
func (m *MetaStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := m.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (m *MetaStore) Close() error { return m.db.Close() }
