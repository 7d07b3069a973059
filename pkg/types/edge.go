package types

import "time"

// Edge represents a typed relationship between two memories.
//
// The triple (SourceID, TargetID, Type) is unique within a store: inserting
// a duplicate fails with storage.ErrDuplicateEdge rather than silently
// merging. The reverse triple is distinct and may coexist.
type Edge struct {
	ID       string       `json:"id"`
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Type     RelationType `json:"relation_type"`

	// Strength is the relationship weight in [0.0, 1.0]. Auto-linked
	// relates_to edges store the cosine similarity that produced them.
	Strength float64 `json:"strength"`

	// Bidirectional marks symmetric relationships (relates_to). Directed
	// relationships (supersedes, source_of, derived_from) leave it false.
	Bidirectional bool `json:"bidirectional"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// EdgeStatusActive is the default status for a live edge.
const EdgeStatusActive = "active"

// Touches reports whether the edge connects to the given memory ID on
// either end.
func (e *Edge) Touches(memoryID string) bool {
	return e.SourceID == memoryID || e.TargetID == memoryID
}
