package types

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SummaryMaxLen is the maximum length of a memory summary in characters.
// Longer summaries are truncated with an ellipsis marker.
const SummaryMaxLen = 200

// Memory represents a single unit of stored knowledge.
type Memory struct {
	// Core identification and content
	ID      string     `json:"id"`                // Unique identifier (uuid)
	Content string     `json:"content"`           // Full memory text
	Summary string     `json:"summary,omitempty"` // Bounded summary (≤ SummaryMaxLen chars)
	Type    MemoryType `json:"memory_type"`       // Closed-set classification
	Scope   Scope      `json:"scope"`             // project or global store

	// Retrieval: at most one embedding kind need be present.
	// code-type memories must carry neither (raw code is never embedded).
	Embedding      []float32 `json:"embedding,omitempty"`       // Remote model vector (e.g. 1024-dim)
	LocalEmbedding []float32 `json:"local_embedding,omitempty"` // Local fallback vector (e.g. 384-dim)

	// Quality signals
	Confidence float64 `json:"confidence"` // 0.0–1.0, decays over time
	Priority   int     `json:"priority"`   // 1–10
	Pinned     bool    `json:"pinned"`     // Exempt from decay, always on the push surface

	// Provenance
	SourceType    string                 `json:"source_type,omitempty"`    // e.g. "extraction", "manual", "code_index"
	SourceSession string                 `json:"source_session,omitempty"` // Session the memory came from
	SourceContext map[string]interface{} `json:"source_context,omitempty"` // Structured blob (file_path, line range, branch)

	// Usage
	Tags           []string   `json:"tags,omitempty"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	// Lifecycle
	Status    MemoryStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	// Sweep bookkeeping: when confidence first dropped below the archive
	// threshold (nil while healthy) and when the memory was archived.
	LowConfidenceSince *time.Time `json:"low_confidence_since,omitempty"`
	ArchivedAt         *time.Time `json:"archived_at,omitempty"`
}

// HasEmbedding reports whether the memory carries a vector of either kind.
func (m *Memory) HasEmbedding() bool {
	return len(m.Embedding) > 0 || len(m.LocalEmbedding) > 0
}

// IsCode reports whether the memory holds raw code.
func (m *Memory) IsCode() bool {
	return m.Type == TypeCode
}

// FilePath returns the source file path recorded in SourceContext, or ""
// when the memory did not come from code indexing.
func (m *Memory) FilePath() string {
	if m.SourceContext == nil {
		return ""
	}
	if p, ok := m.SourceContext["file_path"].(string); ok {
		return p
	}
	return ""
}

// Branch returns the git branch recorded in SourceContext, if any.
func (m *Memory) Branch() string {
	if m.SourceContext == nil {
		return ""
	}
	if b, ok := m.SourceContext["branch"].(string); ok {
		return b
	}
	return ""
}

// TruncateSummary bounds s to SummaryMaxLen characters, appending an
// ellipsis marker when truncation occurs. Truncation is rune-safe.
func TruncateSummary(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= SummaryMaxLen {
		return s
	}

	runes := []rune(s)
	// Reserve one character for the ellipsis.
	return string(runes[:SummaryMaxLen-1]) + "…"
}
