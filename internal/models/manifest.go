package models

import "time"

// ManifestSchemaVersion is written into every manifest entry.
const ManifestSchemaVersion = 1

// ManifestEntry is an append-only audit record for one ingested chunk. The
// manifest is the ingest pipeline's durable checkpoint: a chunk counts as
// ingested only once its entry is written.
type ManifestEntry struct {
	DocID          string    `json:"doc_id"`
	ChunkID        string    `json:"chunk_id"`
	RowHash        string    `json:"row_hash"`
	EmbeddingModel string    `json:"embedding_model"`
	Dim            int       `json:"dim"`
	Timestamp      time.Time `json:"ts"`
	SourceURI      string    `json:"source_uri"`
	Page           int       `json:"page"`
	TokenCount     int       `json:"token_count"`
	Lang           string    `json:"lang"`
	SchemaVersion  int       `json:"schema_version"`
}
