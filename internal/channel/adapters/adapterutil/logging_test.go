package adapterutil

import (
	"strings"
	"testing"
)

func TestSummarizeText(t *testing.T) {
	t.Parallel()

	if got := SummarizeText("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := SummarizeText(" hello\n  world "); got != "hello world" {
		t.Fatalf("unexpected summary: %q", got)
	}
	long := strings.Repeat("飞", 130)
	got := SummarizeText(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis, got %q", got)
	}
	if n := len([]rune(strings.TrimSuffix(got, "..."))); n != 120 {
		t.Fatalf("expected 120 runes, got %d", n)
	}
}

func TestInboundAttrs(t *testing.T) {
	t.Parallel()

	attrs := InboundAttrs("default", "oc_1", "ou_1", "hi")
	if len(attrs) != 4 {
		t.Fatalf("expected 4 attrs, got %d", len(attrs))
	}
}
