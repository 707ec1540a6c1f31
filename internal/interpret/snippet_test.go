package interpret

import (
	"strings"
	"testing"
)

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Truncate() changed a short string: %q", got)
	}

	s := strings.Repeat("a", 3000)
	got := Truncate(s, MaxSummaryBytes)
	if len(got) != MaxSummaryBytes {
		t.Errorf("len = %d, want %d", len(got), MaxSummaryBytes)
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Errorf("missing truncation marker")
	}
}

func TestTruncate_KeepsBuildSummary(t *testing.T) {
	summary := "Build Summary: 1/3 steps succeeded; 2 failed"
	s := strings.Repeat("a", 3000) + "\n" + summary

	got := Truncate(s, MaxSummaryBytes)
	if len(got) > MaxSummaryBytes {
		t.Errorf("len = %d exceeds %d", len(got), MaxSummaryBytes)
	}
	if !strings.HasSuffix(got, summary) {
		t.Errorf("build summary not preserved, tail = %q", got[len(got)-80:])
	}
	if !strings.Contains(got, truncationMarker) {
		t.Errorf("missing truncation marker")
	}
}

func TestTruncate_ValidUTF8(t *testing.T) {
	s := strings.Repeat("é", 2000)
	got := Truncate(s, 101)
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("missing truncation marker")
	}
	for _, r := range strings.TrimSuffix(got, truncationMarker) {
		if r == '�' {
			t.Fatalf("truncation split a multi-byte rune: %q", got)
		}
	}
}
