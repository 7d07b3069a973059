package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const (
	// archiveConfidenceThreshold is the confidence below which the archive
	// clock starts ticking.
	archiveConfidenceThreshold = 0.3

	// archiveAfter is how long confidence must stay below the threshold
	// before an active memory is archived.
	archiveAfter = 14 * 24 * time.Hour

	// pruneAfter is how long an archived memory may sit untouched before
	// it is hard-deleted.
	pruneAfter = 30 * 24 * time.Hour

	// confidenceWriteThreshold is the minimum change required to write a
	// decayed confidence back to the store.
	confidenceWriteThreshold = 0.001
)

// halfLives maps memory type to decay half-life. Types absent from the map
// do not decay: architectural knowledge and decisions stay valid until
// superseded, and code memories track the file, not the calendar.
var halfLives = map[types.MemoryType]time.Duration{
	types.TypeProgress: 7 * 24 * time.Hour,
	types.TypeContext:  30 * 24 * time.Hour,
	types.TypeGotcha:   45 * 24 * time.Hour,
	types.TypePattern:  60 * 24 * time.Hour,
}

// ApplyDecay returns the decayed confidence for a memory at the given
// instant: confidence * 0.5^(daysSinceUpdate / halfLife).
//
// The half-life is doubled when access_count > 10 and doubled again when
// centrality > 0.5 (both boosts stack). Pinned memories and non-decaying
// types return their confidence unchanged. Pure function; the caller
// persists the result.
func ApplyDecay(m *types.Memory, now time.Time, centrality float64) float64 {
	if m.Pinned {
		return m.Confidence
	}

	halfLife, ok := halfLives[m.Type]
	if !ok {
		return m.Confidence
	}

	if m.AccessCount > 10 {
		halfLife *= 2
	}
	if centrality > 0.5 {
		halfLife *= 2
	}

	days := now.Sub(m.UpdatedAt).Hours() / 24.0
	if days <= 0 {
		return m.Confidence
	}

	halfLifeDays := halfLife.Hours() / 24.0
	return m.Confidence * math.Pow(0.5, days/halfLifeDays)
}

// SweepAction describes what the status sweep decided for one memory.
type SweepAction int

const (
	SweepKeep SweepAction = iota
	SweepStartClock
	SweepClearClock
	SweepArchive
	SweepPrune
)

// SweepStatus decides the lifecycle transition for a memory given its
// decayed confidence and the current time. An active memory below the
// confidence threshold is archived once the archival window has passed,
// measured from the low-confidence clock or, when no sweep ever started
// one, from the last update. Pure function over memory state plus now;
// Sweep applies the result.
func SweepStatus(m *types.Memory, decayedConfidence float64, now time.Time) SweepAction {
	switch m.Status {
	case types.StatusActive:
		if m.Pinned {
			return SweepKeep
		}
		if decayedConfidence >= archiveConfidenceThreshold {
			if m.LowConfidenceSince != nil {
				return SweepClearClock
			}
			return SweepKeep
		}
		if m.LowConfidenceSince == nil {
			// Untouched for the full window with decayed confidence
			// already under the threshold: the crossing happened in the
			// past even though no sweep was running to observe it.
			if now.Sub(m.UpdatedAt) >= archiveAfter {
				return SweepArchive
			}
			return SweepStartClock
		}
		if now.Sub(*m.LowConfidenceSince) >= archiveAfter {
			return SweepArchive
		}
		return SweepKeep

	case types.StatusArchived:
		if m.ArchivedAt != nil && now.Sub(*m.ArchivedAt) >= pruneAfter {
			return SweepPrune
		}
		return SweepKeep

	default:
		return SweepKeep
	}
}

// Sweep applies decay and status transitions across all active and
// archived memories in the store. Decayed confidence is persisted when it
// changed meaningfully; active memories below the confidence threshold for
// 14 days straight are archived, and archived memories untouched for 30
// days are pruned (hard-deleted). Per-memory failures are logged and
// skipped so one bad row never aborts the sweep.
func (e *Engine) Sweep(ctx context.Context, store storage.Store, now time.Time) error {
	centrality, err := Centrality(ctx, store)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	for _, m := range active {
		decayed := ApplyDecay(m, now, centrality[m.ID])

		patch := storage.MemoryPatch{}
		dirty := false
		if math.Abs(decayed-m.Confidence) >= confidenceWriteThreshold {
			patch.Confidence = storage.Float64(decayed)
			dirty = true
		}

		switch SweepStatus(m, decayed, now) {
		case SweepStartClock:
			patch.LowConfidenceSince = storage.Time(now)
			dirty = true
		case SweepClearClock:
			patch.ClearLowConfidence = true
			dirty = true
		case SweepArchive:
			if dirty {
				if err := store.Update(ctx, m.ID, patch); err != nil {
					log.Printf("engine: sweep update %s: %v", m.ID, err)
					continue
				}
			}
			if err := store.SetStatus(ctx, m.ID, types.StatusArchived); err != nil {
				log.Printf("engine: sweep archive %s: %v", m.ID, err)
			}
			continue
		}

		if dirty {
			if err := store.Update(ctx, m.ID, patch); err != nil {
				log.Printf("engine: sweep update %s: %v", m.ID, err)
			}
		}
	}

	archived, err := store.ListByStatus(ctx, types.StatusArchived)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	for _, m := range archived {
		if SweepStatus(m, m.Confidence, now) == SweepPrune {
			if err := store.Delete(ctx, m.ID); err != nil {
				log.Printf("engine: sweep prune %s: %v", m.ID, err)
			}
		}
	}

	return nil
}
