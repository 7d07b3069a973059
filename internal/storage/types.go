package storage

import (
	"errors"
	"time"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateEdge indicates an edge insert violated the
	// (source, target, relation_type) uniqueness invariant. The caller
	// decides whether to ignore it; the write never silently succeeds.
	ErrDuplicateEdge = errors.New("duplicate edge")

	// ErrStoreUnavailable indicates the persistence file is corrupt or
	// unreachable. Fatal for the invocation.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrLockTimeout indicates another process held the exclusive section
	// too long. Reported to the caller with guidance to retry.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrEmptyExtraction indicates code indexing found nothing in the
	// requested range. Reported, not retried.
	ErrEmptyExtraction = errors.New("empty extraction")

	// ErrServiceUnavailable indicates an external collaborator call failed
	// or timed out. Always recoverable by degrading.
	ErrServiceUnavailable = errors.New("service unavailable")
)

// MemoryPatch carries partial-update fields for MemoryStore.Update.
// Pointer fields distinguish "not set" from zero values.
type MemoryPatch struct {
	Content    *string
	Summary    *string
	Confidence *float64
	Priority   *int
	Pinned     *bool
	Tags       []string
	Status     *types.MemoryStatus

	// Embedding replacement is full-replace only: a non-nil slice replaces
	// the stored vector wholesale.
	Embedding      []float32
	LocalEmbedding []float32

	SourceContext map[string]interface{}

	// LowConfidenceSince manages the archive clock. Setting
	// ClearLowConfidence resets it to NULL regardless of the pointer.
	LowConfidenceSince *time.Time
	ClearLowConfidence bool

	ArchivedAt *time.Time
}

// String returns a pointer to s, for building patches inline.
func String(s string) *string { return &s }

// Float64 returns a pointer to f, for building patches inline.
func Float64(f float64) *float64 { return &f }

// Int returns a pointer to i, for building patches inline.
func Int(i int) *int { return &i }

// Bool returns a pointer to b, for building patches inline.
func Bool(b bool) *bool { return &b }

// Status returns a pointer to s, for building patches inline.
func Status(s types.MemoryStatus) *types.MemoryStatus { return &s }

// Time returns a pointer to t, for building patches inline.
func Time(t time.Time) *time.Time { return &t }
