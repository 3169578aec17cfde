package util

import "testing"

func TestTruncate(t *testing.T) {
	if got := Truncate("hello", 10); got != "hello" {
		t.Fatalf("short string modified: %q", got)
	}
	if got := Truncate("hello world", 5); got != "hello..." {
		t.Fatalf("got %q", got)
	}
	// Rune-safe: must not split multibyte characters
	if got := Truncate("héllø wörld", 4); got != "héll..." {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateExact(t *testing.T) {
	if got := TruncateExact("hello world", 5); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := TruncateExact("hi", 5); got != "hi" {
		t.Fatalf("got %q", got)
	}
}
