package util

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10, "..."); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("é", 300)
	got := Truncate(long, 280, "...")
	if RuneLen(got) != 280 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation, %d runes", RuneLen(got))
	}
	if got := Truncate("abcdef", 2, "..."); got != ".." {
		t.Fatalf("suffix longer than limit: %q", got)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	if got := NormalizeWhitespace("  a\n\tb   c "); got != "a b c" {
		t.Fatalf("got %q", got)
	}
}

func TestContainsAnyCaseInsensitive(t *testing.T) {
	if !ContainsAnyCaseInsensitive("Status is a DUPLICATE", []string{"duplicate"}) {
		t.Fatal("expected match")
	}
	if ContainsAnyCaseInsensitive("fine", []string{"duplicate"}) {
		t.Fatal("unexpected match")
	}
}
