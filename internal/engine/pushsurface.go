package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mnemon-dev/mnemon/internal/llm"
	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// Generation markers. Everything between them is rewritten on each
// session start; bytes outside them belong to the user and are preserved
// verbatim.
const (
	ArtifactBeginMarker = "<!-- mnemon:begin -->"
	ArtifactEndMarker   = "<!-- mnemon:end -->"
)

// BuildPushSurface renders the session-start summary for a store: pinned
// memories first, then the highest-scoring remainder up to the soft token
// budget, partitioned into Critical / Context-Specific / Code Index tiers.
// The budget is a soft target; the selection that first crosses it is kept
// whole rather than truncated mid-sentence, and nothing is added after.
func (e *Engine) BuildPushSurface(ctx context.Context, store storage.Store, branch string) (string, error) {
	active, err := store.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("push surface: %w", err)
	}

	centrality, err := Centrality(ctx, store)
	if err != nil {
		return "", fmt.Errorf("push surface: %w", err)
	}
	rc := RankContext{
		Centrality:     centrality,
		MaxAccessCount: MaxAccessCount(active),
		Branch:         branch,
	}

	selected := selectForSurface(active, rc, e.config.TokenBudget)
	return renderSurface(selected, branch), nil
}

// selectForSurface orders candidates and applies the budget. Raw code
// memories never appear on the surface; their code_description pair
// represents them.
func selectForSurface(active []*types.Memory, rc RankContext, tokenBudget int) []*types.Memory {
	var pinned, rest []*types.Memory
	for _, m := range active {
		if m.IsCode() {
			continue
		}
		if m.Pinned {
			pinned = append(pinned, m)
		} else {
			rest = append(rest, m)
		}
	}

	byScore := func(memories []*types.Memory) {
		sort.Slice(memories, func(i, j int) bool {
			si, sj := Score(memories[i], rc), Score(memories[j], rc)
			if si != sj {
				return si > sj
			}
			return memories[i].CreatedAt.After(memories[j].CreatedAt)
		})
	}
	byScore(pinned)
	byScore(rest)

	// Pinned memories are always on the surface, budget notwithstanding.
	selected := make([]*types.Memory, 0, len(pinned))
	used := 0
	for _, m := range pinned {
		selected = append(selected, m)
		used += llm.EstimateTokens(surfaceLine(m))
	}

	for _, m := range rest {
		if used >= tokenBudget {
			break
		}
		// The entry that crosses the budget is kept whole: one overflow,
		// then stop.
		selected = append(selected, m)
		used += llm.EstimateTokens(surfaceLine(m))
	}

	return selected
}

// renderSurface partitions selected memories into tiers and renders
// deterministic markdown. Selection order within each tier is preserved
// (score descending, ties newest first).
func renderSurface(selected []*types.Memory, branch string) string {
	var critical, contextSpecific, codeIndex []*types.Memory
	for _, m := range selected {
		switch {
		case m.Type == types.TypeCodeDescription:
			codeIndex = append(codeIndex, m)
		case branch != "" && m.Branch() == branch:
			contextSpecific = append(contextSpecific, m)
		default:
			critical = append(critical, m)
		}
	}

	var b strings.Builder
	b.WriteString("# Project Memory\n")

	writeTier := func(title string, memories []*types.Memory) {
		if len(memories) == 0 {
			return
		}
		b.WriteString("\n## " + title + "\n\n")
		for _, m := range memories {
			b.WriteString(surfaceLine(m))
			b.WriteByte('\n')
		}
	}

	writeTier("Critical", critical)
	if branch != "" {
		writeTier("Context-Specific ("+branch+")", contextSpecific)
	} else {
		writeTier("Context-Specific", contextSpecific)
	}
	writeTier("Code Index", codeIndex)

	return b.String()
}

// surfaceLine renders one memory as a markdown bullet.
func surfaceLine(m *types.Memory) string {
	text := m.Summary
	if text == "" {
		text = types.TruncateSummary(m.Content)
	}

	if m.Type == types.TypeCodeDescription {
		if path := m.FilePath(); path != "" {
			return fmt.Sprintf("- `%s` — %s", path, text)
		}
	}

	marker := ""
	if m.Pinned {
		marker = " 📌"
	}
	return fmt.Sprintf("- **%s**%s %s", m.Type, marker, text)
}

// WriteArtifact places content between the generation markers in the file
// at path, preserving everything outside them byte for byte. A file
// without markers gets them appended; a missing file is created.
func WriteArtifact(path, content string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: read %s: %w", path, err)
	}

	block := ArtifactBeginMarker + "\n" + content + ArtifactEndMarker

	var out string
	text := string(existing)
	begin := strings.Index(text, ArtifactBeginMarker)
	end := strings.Index(text, ArtifactEndMarker)

	switch {
	case begin >= 0 && end > begin:
		out = text[:begin] + block + text[end+len(ArtifactEndMarker):]
	case len(text) == 0:
		out = block + "\n"
	default:
		if !strings.HasSuffix(text, "\n") {
			text += "\n"
		}
		out = text + "\n" + block + "\n"
	}

	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}
