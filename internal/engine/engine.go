package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

const (
	// metaExtractionsSinceConsolidation is the meta-table key tracking how
	// many extraction runs happened since the last consolidation. Each
	// invocation is a fresh process, so the counter lives in the store.
	metaExtractionsSinceConsolidation = "extractions_since_consolidation"

	// extractionTimeout bounds every external text-generation call made
	// during the session-end pipeline.
	extractionTimeout = 30 * time.Second

	// backfillRate limits opportunistic embedding backfill during recall
	// so a cold store doesn't burst the embedding service.
	backfillRatePerSecond = 2
	backfillBurst         = 4

	// backfillBatchSize is how many unembedded memories one session-end
	// run tries to catch up on.
	backfillBatchSize = 10
)

// Config carries engine tuning. Zero values get defaults from Validate.
type Config struct {
	// SnapshotDir is where consolidation writes its pre-run store
	// snapshots.
	SnapshotDir string

	// ArtifactPath is the session-start artifact the push surface is
	// rendered into.
	ArtifactPath string

	// TokenBudget is the soft push-surface budget in tokens.
	TokenBudget int

	// MaxTranscriptChars caps how much new transcript one extraction run
	// reads past the checkpoint cursor.
	MaxTranscriptChars int

	// ConsolidationExtractionTrigger is the extraction count that triggers
	// an automatic consolidation.
	ConsolidationExtractionTrigger int

	// ConsolidationActiveTrigger is the active-memory count that triggers
	// an automatic consolidation.
	ConsolidationActiveTrigger int
}

// Validate applies defaults and rejects impossible values.
func (c *Config) Validate() error {
	if c.TokenBudget == 0 {
		c.TokenBudget = 400
	}
	if c.TokenBudget < 0 {
		return fmt.Errorf("token budget must be positive, got %d", c.TokenBudget)
	}
	if c.MaxTranscriptChars == 0 {
		c.MaxTranscriptChars = 100_000
	}
	if c.MaxTranscriptChars < 0 {
		return fmt.Errorf("max transcript chars must be positive, got %d", c.MaxTranscriptChars)
	}
	if c.ConsolidationExtractionTrigger == 0 {
		c.ConsolidationExtractionTrigger = 10
	}
	if c.ConsolidationActiveTrigger == 0 {
		c.ConsolidationActiveTrigger = 80
	}
	return nil
}

// Engine coordinates the memory stores, external model providers, and the
// lifecycle/consolidation machinery. One Engine serves one invocation; it
// holds no cross-invocation state outside the stores.
type Engine struct {
	config Config

	// project is the working-directory-scoped store, always present.
	project storage.Store

	// global is the cross-project store; nil when the invocation only
	// touches project scope.
	global storage.Store

	textGen         llm.TextGenerator
	remoteEmbedder  llm.EmbeddingGenerator
	localEmbedder   llm.EmbeddingGenerator
	backfillLimiter *rate.Limiter
}

// New creates an Engine. The project store is required; everything else
// is optional and its absence degrades the corresponding behavior (no
// text generator → no extraction or classification, no embedders →
// keyword-only retrieval).
func New(project storage.Store, global storage.Store, textGen llm.TextGenerator, remoteEmbedder, localEmbedder llm.EmbeddingGenerator, config Config) (*Engine, error) {
	if project == nil {
		return nil, fmt.Errorf("engine: project store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	return &Engine{
		config:          config,
		project:         project,
		global:          global,
		textGen:         textGen,
		remoteEmbedder:  remoteEmbedder,
		localEmbedder:   localEmbedder,
		backfillLimiter: rate.NewLimiter(rate.Limit(backfillRatePerSecond), backfillBurst),
	}, nil
}

// storeForScope returns the store backing a scope, or nil when the engine
// was not given one for it.
func (e *Engine) storeForScope(scope types.Scope) storage.Store {
	if scope == types.ScopeGlobal {
		return e.global
	}
	return e.project
}

// embedText generates embeddings for prose, remote first, local second.
// Either may be nil or failing; (nil, nil) means "store unembedded and
// queue for backfill", never an error.
func (e *Engine) embedText(ctx context.Context, text string) (remote, local []float32) {
	if e.remoteEmbedder != nil {
		vec, err := e.remoteEmbedder.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return vec, nil
		}
		if err != nil {
			log.Printf("engine: remote embedding failed, trying local: %v", err)
		}
	}

	if e.localEmbedder != nil {
		vec, err := e.localEmbedder.Embed(ctx, text)
		if err == nil && len(vec) > 0 {
			return nil, vec
		}
		if err != nil {
			log.Printf("engine: local embedding failed: %v", err)
		}
	}

	return nil, nil
}

// extractionCount reads the durable extractions-since-consolidation
// counter. A missing or garbled row counts as zero.
func extractionCount(ctx context.Context, store storage.MetaStore) int {
	raw, err := store.GetMeta(ctx, metaExtractionsSinceConsolidation)
	if err != nil || raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// setExtractionCount writes the counter back.
func setExtractionCount(ctx context.Context, store storage.MetaStore, n int) error {
	return store.SetMeta(ctx, metaExtractionsSinceConsolidation, strconv.Itoa(n))
}
