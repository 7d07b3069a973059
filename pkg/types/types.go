// Package types defines the core data structures for the mnemon memory
// engine: memories, typed edges between memories, and extraction
// checkpoints, together with the closed sets of types and statuses that
// everything else in the system validates against.
package types

// MemoryType classifies the purpose/nature of a memory.
type MemoryType string

// Scope identifies which store a memory lives in.
type Scope string

// MemoryStatus represents the lifecycle status of a memory.
type MemoryStatus string

// RelationType classifies an edge between two memories.
type RelationType string

// Memory type constants.
const (
	// TypeArchitecture captures structural knowledge about the codebase.
	TypeArchitecture MemoryType = "architecture"

	// TypeDecision captures choices made and their rationale.
	TypeDecision MemoryType = "decision"

	// TypePattern captures recurring conventions in the project.
	TypePattern MemoryType = "pattern"

	// TypeGotcha captures surprising behavior that cost time once already.
	TypeGotcha MemoryType = "gotcha"

	// TypeContext captures background knowledge about the project.
	TypeContext MemoryType = "context"

	// TypeProgress captures in-flight work state; decays fastest.
	TypeProgress MemoryType = "progress"

	// TypeCodeDescription is the embedded prose half of a code pair.
	TypeCodeDescription MemoryType = "code_description"

	// TypeCode is the raw-code half of a code pair. Never embedded.
	TypeCode MemoryType = "code"
)

// ValidMemoryTypes lists all valid memory types for validation.
var ValidMemoryTypes = []MemoryType{
	TypeArchitecture,
	TypeDecision,
	TypePattern,
	TypeGotcha,
	TypeContext,
	TypeProgress,
	TypeCodeDescription,
	TypeCode,
}

// Scope constants.
const (
	// ScopeProject keeps the memory local to one working directory.
	ScopeProject Scope = "project"

	// ScopeGlobal shares the memory across all projects on the machine.
	ScopeGlobal Scope = "global"
)

// Memory status constants.
const (
	// StatusActive indicates the memory is live and rankable.
	StatusActive MemoryStatus = "active"

	// StatusSuperseded indicates a newer version replaced this memory.
	StatusSuperseded MemoryStatus = "superseded"

	// StatusArchived indicates sustained low confidence; excluded from the
	// push surface but still reachable by recall.
	StatusArchived MemoryStatus = "archived"

	// StatusPruned indicates the memory was hard-deleted. Rows never carry
	// this status; it exists for reporting sweep outcomes.
	StatusPruned MemoryStatus = "pruned"
)

// Relation type constants.
const (
	RelRelatesTo   RelationType = "relates_to"
	RelDerivedFrom RelationType = "derived_from"
	RelContradicts RelationType = "contradicts"
	RelExemplifies RelationType = "exemplifies"
	RelRefines     RelationType = "refines"

	// RelSupersedes marks replacement. Only explicit human-directed actions
	// (re-indexing, consolidation commit, manual replace) may create it;
	// automated classification output proposing it is discarded.
	RelSupersedes RelationType = "supersedes"

	// RelSourceOf links a code_description memory to its raw code memory.
	RelSourceOf RelationType = "source_of"
)

// ValidRelationTypes lists all valid relation types for validation.
var ValidRelationTypes = []RelationType{
	RelRelatesTo,
	RelDerivedFrom,
	RelContradicts,
	RelExemplifies,
	RelRefines,
	RelSupersedes,
	RelSourceOf,
}

// ClassifiableRelationTypes is the subset an automated classifier may emit.
// It excludes supersedes (human-directed only) and source_of (created only
// by code indexing).
var ClassifiableRelationTypes = []RelationType{
	RelRelatesTo,
	RelDerivedFrom,
	RelContradicts,
	RelExemplifies,
	RelRefines,
}

// IsValidMemoryType checks if the given memory type is valid.
func IsValidMemoryType(t MemoryType) bool {
	for _, valid := range ValidMemoryTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// IsValidScope checks if the given scope is valid.
func IsValidScope(s Scope) bool {
	return s == ScopeProject || s == ScopeGlobal
}

// IsValidStatus checks if the given status is valid for a stored row.
// StatusPruned is excluded: pruned memories are deleted, not stored.
func IsValidStatus(s MemoryStatus) bool {
	return s == StatusActive || s == StatusSuperseded || s == StatusArchived
}

// IsValidRelationType checks if the given relation type is valid.
func IsValidRelationType(t RelationType) bool {
	for _, valid := range ValidRelationTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// IsClassifiableRelationType checks whether an automated classifier is
// allowed to emit the given relation type.
func IsClassifiableRelationType(t RelationType) bool {
	for _, valid := range ClassifiableRelationTypes {
		if valid == t {
			return true
		}
	}
	return false
}
