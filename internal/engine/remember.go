package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// RememberRequest is a memory stated directly by the user rather than
// extracted from a transcript.
type RememberRequest struct {
	Content  string
	Summary  string
	Type     types.MemoryType
	Scope    types.Scope
	Priority int
	Tags     []string
	Pinned   bool
}

// Remember inserts a user-stated memory. User statements are trusted:
// confidence starts at 1.0 and no extraction model is consulted. The new
// memory is embedded and auto-linked against the active set like any
// extracted one.
func (e *Engine) Remember(ctx context.Context, req RememberRequest) (*types.Memory, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = types.TypeContext
	}
	if !types.IsValidMemoryType(req.Type) || req.Type == types.TypeCode || req.Type == types.TypeCodeDescription {
		return nil, fmt.Errorf("%w: invalid memory type %q", storage.ErrInvalidInput, req.Type)
	}
	if req.Scope == "" {
		req.Scope = types.ScopeProject
	}
	if req.Priority != 0 && (req.Priority < 1 || req.Priority > 10) {
		return nil, fmt.Errorf("%w: priority %d outside [1, 10]", storage.ErrInvalidInput, req.Priority)
	}

	store := e.storeForScope(req.Scope)
	if store == nil {
		return nil, fmt.Errorf("%w: no store for scope %q", storage.ErrInvalidInput, req.Scope)
	}

	mem := &types.Memory{
		Content:    req.Content,
		Summary:    req.Summary,
		Type:       req.Type,
		Scope:      req.Scope,
		Confidence: 1.0,
		Priority:   req.Priority,
		Tags:       req.Tags,
		Pinned:     req.Pinned,
		SourceType: "user",
	}
	if mem.Summary == "" {
		mem.Summary = types.TruncateSummary(mem.Content)
	}

	mem.Embedding, mem.LocalEmbedding = e.embedText(ctx, mem.Content)

	if _, err := store.Insert(ctx, mem); err != nil {
		return nil, fmt.Errorf("remember: %w", err)
	}

	if active, err := store.ListActive(ctx); err == nil {
		if _, err := e.AutoLink(ctx, store, mem, active); err != nil {
			log.Printf("engine: auto-link remembered memory: %v", err)
		}
	}

	return mem, nil
}
