package ingest

import (
	"strings"
	"testing"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "hello   world\n\nagain", "hello world again"},
		{"strips tabs and carriage returns", "a\tb\r\nc", "a b c"},
		{"replaces nbsp", "a b", "a b"},
		{"drops page number line", "intro text\n42\nmore text", "intro text more text"},
		{"drops Page N line", "intro text\nPage 3\nmore text", "intro text more text"},
		{"drops N/M line", "intro text\n3 / 12\nmore text", "intro text more text"},
		{"keeps numbers inside sentences", "chapter 3 covers parsing", "chapter 3 covers parsing"},
		{"trims", "  padded  ", "padded"},
		{"empty", "   \n\t  ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.in); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRowHash(t *testing.T) {
	a := RowHash("some content")
	b := RowHash("some content")
	c := RowHash("other content")
	if a != b {
		t.Error("hash not deterministic")
	}
	if a == c {
		t.Error("different content hashed equal")
	}
	if len(a) != 64 || strings.ToLower(a) != a {
		t.Errorf("unexpected hash format: %s", a)
	}
}
