// Package models defines core data structures for chunks, search, the ingest
// manifest, and chat exchanges.
package models

import "fmt"

// UpsertItem is a single chunk submitted for indexing. The id is caller-assigned
// and deterministic per source+offset, so re-ingesting the same source replaces
// entries instead of duplicating them.
type UpsertItem struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the item has the required fields.
func (it *UpsertItem) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("missing id")
	}
	if it.Text == "" {
		return fmt.Errorf("missing text")
	}
	return nil
}

// UpsertFailure reports a single rejected item within a batch.
type UpsertFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// UpsertResult summarizes a batch upsert. Failures are per-item; the rest of the
// batch is applied regardless.
type UpsertResult struct {
	Accepted int             `json:"accepted"`
	Failed   []UpsertFailure `json:"failed"`
}
