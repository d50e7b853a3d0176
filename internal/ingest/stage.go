// Package ingest turns source documents into chunks and loads them into the
// vector store: extract, clean, dedupe, segment, upsert, manifest.
package ingest

import "fmt"

// Stage identifies a step of the ingestion pipeline.
type Stage string

const (
	StagePending         Stage = "pending"
	StageExtracting      Stage = "extracting"
	StageCleaning        Stage = "cleaning"
	StageSegmenting      Stage = "segmenting"
	StageUpserting       Stage = "upserting"
	StageManifestWriting Stage = "manifest_writing"
	StageDone            Stage = "done"
)

// StageError marks a document run failed at a specific stage. Failed runs are
// resumable: the manifest records what was durably committed before failure.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("ingest failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func failAt(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
