package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	controlWhitespace = regexp.MustCompile(`[\t\r\f]+`)
	multiWhitespace   = regexp.MustCompile(`\s+`)
	// pageNumberLine matches lines that are only a page number, with optional
	// "Page"/"p." prefixes, the structural noise extraction leaves behind.
	pageNumberLine = regexp.MustCompile(`(?mi)^\s*(?:page|p\.?)?\s*\d+\s*(?:/\s*\d+)?\s*$`)
)

// CleanText normalizes a raw page blob for ingestion: strips page-number
// lines, replaces non-breaking spaces, removes control whitespace, and
// collapses runs of whitespace to single spaces.
func CleanText(t string) string {
	t = pageNumberLine.ReplaceAllString(t, " ")
	t = strings.ReplaceAll(t, " ", " ")
	t = controlWhitespace.ReplaceAllString(t, " ")
	t = multiWhitespace.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}

// RowHash returns the deterministic content hash used for deduplication.
func RowHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
