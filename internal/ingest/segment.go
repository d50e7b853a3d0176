package ingest

import (
	"fmt"
	"strings"

	"github.com/llasta/ragcore/pkg/utils"
)

// Draft is a segmented chunk before upsert: deterministic id, cleaned text,
// provenance, and the dedupe hash.
type Draft struct {
	ID         string
	Text       string
	Page       int
	RowHash    string
	TokenCount int
}

// Segmenter splits cleaned page blobs into chunk drafts. Both policies are
// deterministic: re-running segmentation on the same source yields the same
// ids, which is what makes re-ingestion replace instead of duplicate.
type Segmenter struct {
	policy        string
	chunkSize     int
	chunkOverlap  int
	minChunkChars int
}

// Segmentation policies.
const (
	PolicyPage   = "page"   // 1 page = 1 chunk, id doc_id#page-NNNN
	PolicyWindow = "window" // word windows with overlap, id doc_id#w-NNNN
)

// NewSegmenter creates a segmenter. policy is "page" or "window"; size and
// overlap are in words and only apply to the window policy.
func NewSegmenter(policy string, chunkSize, chunkOverlap, minChunkChars int) (*Segmenter, error) {
	switch policy {
	case PolicyPage, PolicyWindow:
	default:
		return nil, fmt.Errorf("unknown segmenter policy: %s (supported: page, window)", policy)
	}
	if minChunkChars <= 0 {
		minChunkChars = 20
	}
	return &Segmenter{
		policy:        policy,
		chunkSize:     chunkSize,
		chunkOverlap:  chunkOverlap,
		minChunkChars: minChunkChars,
	}, nil
}

// Segment turns cleaned pages into drafts. Pages shorter than the minimum are
// dropped; page numbers in ids and provenance are 1-based.
func (s *Segmenter) Segment(docID string, pages []string) []Draft {
	if s.policy == PolicyWindow {
		return s.segmentWindows(docID, pages)
	}
	return s.segmentPages(docID, pages)
}

func (s *Segmenter) segmentPages(docID string, pages []string) []Draft {
	drafts := make([]Draft, 0, len(pages))
	for i, text := range pages {
		if len(text) < s.minChunkChars {
			continue
		}
		drafts = append(drafts, Draft{
			ID:         fmt.Sprintf("%s#page-%04d", docID, i+1),
			Text:       text,
			Page:       i + 1,
			RowHash:    RowHash(text),
			TokenCount: utils.TokenCount(text),
		})
	}
	return drafts
}

func (s *Segmenter) segmentWindows(docID string, pages []string) []Draft {
	size := s.chunkSize
	if size <= 0 {
		size = 512
	}
	step := size - s.chunkOverlap
	if step <= 0 {
		step = 1
	}
	var drafts []Draft
	chunkIndex := 0
	for pageIdx, page := range pages {
		words := strings.Fields(page)
		for start := 0; start < len(words); start += step {
			end := start + size
			if end > len(words) {
				end = len(words)
			}
			text := strings.Join(words[start:end], " ")
			if len(text) >= s.minChunkChars {
				drafts = append(drafts, Draft{
					ID:         fmt.Sprintf("%s#w-%04d", docID, chunkIndex),
					Text:       text,
					Page:       pageIdx + 1,
					RowHash:    RowHash(text),
					TokenCount: end - start,
				})
				chunkIndex++
			}
			if end >= len(words) {
				break
			}
		}
	}
	return drafts
}
