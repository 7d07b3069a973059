package types

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short", "uses sqlite WAL mode", "uses sqlite WAL mode"},
		{"whitespace trimmed", "  padded  ", "padded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateSummary(tt.in); got != tt.want {
				t.Errorf("TruncateSummary(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTruncateSummaryLong(t *testing.T) {
	long := strings.Repeat("a", SummaryMaxLen+50)
	got := TruncateSummary(long)

	if n := utf8.RuneCountInString(got); n != SummaryMaxLen {
		t.Errorf("truncated length = %d runes, want %d", n, SummaryMaxLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("truncated summary missing ellipsis marker: %q", got[len(got)-10:])
	}
}

func TestTruncateSummaryMultibyte(t *testing.T) {
	// Rune-safe truncation must not split a multi-byte character.
	long := strings.Repeat("é", SummaryMaxLen+10)
	got := TruncateSummary(long)

	if !utf8.ValidString(got) {
		t.Fatal("truncation produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != SummaryMaxLen {
		t.Errorf("truncated length = %d runes, want %d", n, SummaryMaxLen)
	}
}

func TestIsValidMemoryType(t *testing.T) {
	for _, mt := range ValidMemoryTypes {
		if !IsValidMemoryType(mt) {
			t.Errorf("IsValidMemoryType(%q) = false, want true", mt)
		}
	}
	if IsValidMemoryType("episode") {
		t.Error("IsValidMemoryType accepted unknown type")
	}
}

func TestIsClassifiableRelationType(t *testing.T) {
	if IsClassifiableRelationType(RelSupersedes) {
		t.Error("supersedes must never be classifiable by automation")
	}
	if IsClassifiableRelationType(RelSourceOf) {
		t.Error("source_of must never be classifiable by automation")
	}
	if !IsClassifiableRelationType(RelRelatesTo) {
		t.Error("relates_to should be classifiable")
	}
}

func TestMemoryFilePathAndBranch(t *testing.T) {
	m := &Memory{
		SourceContext: map[string]interface{}{
			"file_path": "internal/server/server.go",
			"branch":    "feature/auth",
			"line_start": 12,
		},
	}

	if got := m.FilePath(); got != "internal/server/server.go" {
		t.Errorf("FilePath() = %q", got)
	}
	if got := m.Branch(); got != "feature/auth" {
		t.Errorf("Branch() = %q", got)
	}

	empty := &Memory{}
	if empty.FilePath() != "" || empty.Branch() != "" {
		t.Error("nil SourceContext should yield empty path and branch")
	}
}
