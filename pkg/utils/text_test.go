package utils

import "testing"

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Errorf("got %q", got)
	}
	if got := Truncate("hello", 0); got != "hello" {
		t.Errorf("got %q", got)
	}
}

func TestTokenCount(t *testing.T) {
	if got := TokenCount("one two  three\nfour"); got != 4 {
		t.Errorf("got %d", got)
	}
	if got := TokenCount(""); got != 0 {
		t.Errorf("got %d", got)
	}
}
