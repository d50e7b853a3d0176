// Package extract provides per-page text extraction from source documents.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Extractor extracts raw per-page text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns one raw text blob per page.
// PDFs yield one blob per PDF page; plain-text formats (.txt, .md, .rst)
// yield a single blob. Returns an error if the file cannot be read.
func (e *Extractor) Extract(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts pages from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf"). Unknown extensions are
// treated as plain text.
func (e *Extractor) ExtractBytes(content []byte, ext string) ([]string, error) {
	switch ext {
	case ".pdf":
		return extractPDFPages(content)
	default:
		page, err := extractPlain(content)
		if err != nil {
			return nil, err
		}
		return []string{page}, nil
	}
}
