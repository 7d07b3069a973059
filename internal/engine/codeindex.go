package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mnemon-dev/mnemon/internal/storage"
	"github.com/mnemon-dev/mnemon/pkg/types"
)

// IndexRequest describes one code-indexing operation.
type IndexRequest struct {
	// FilePath is the file to index, as recorded in source_context.
	FilePath string

	// Summary is the prose description of what the code does.
	Summary string

	// LineStart and LineEnd are 1-based inclusive bounds. Zero values
	// default to the whole file.
	LineStart int
	LineEnd   int

	Scope  types.Scope
	Branch string
}

// IndexCode builds a prose/code memory pair for a file range: an embedded
// code_description memory plus a never-embedded code memory holding the
// raw text, linked by a source_of edge prose → code.
//
// Re-indexing the same path inserts the new pair first and only then
// supersedes the prior active pair, so a crash mid-operation never leaves
// zero active versions of the file's memory. The new memories carry
// supersedes edges to the versions they replaced.
func (e *Engine) IndexCode(ctx context.Context, store storage.Store, req IndexRequest) (prose, code *types.Memory, err error) {
	if req.FilePath == "" {
		return nil, nil, fmt.Errorf("%w: file path is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(req.Summary) == "" {
		return nil, nil, fmt.Errorf("%w: prose summary is required", storage.ErrInvalidInput)
	}

	extracted, lineStart, lineEnd, err := extractLines(req.FilePath, req.LineStart, req.LineEnd)
	if err != nil {
		return nil, nil, err
	}

	scope := req.Scope
	if scope == "" {
		scope = types.ScopeProject
	}
	sourceContext := map[string]interface{}{
		"file_path":  req.FilePath,
		"line_start": lineStart,
		"line_end":   lineEnd,
	}
	if req.Branch != "" {
		sourceContext["branch"] = req.Branch
	}

	prior, err := store.ActiveCodeMemoriesForPath(ctx, req.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("code index: prior versions: %w", err)
	}

	prose = &types.Memory{
		Content:       req.Summary,
		Summary:       req.Summary,
		Type:          types.TypeCodeDescription,
		Scope:         scope,
		Confidence:    1.0,
		Priority:      5,
		SourceType:    "code_index",
		SourceContext: sourceContext,
	}
	prose.Embedding, prose.LocalEmbedding = e.embedText(ctx, prose.Content)

	if _, err := store.Insert(ctx, prose); err != nil {
		return nil, nil, fmt.Errorf("code index: insert description: %w", err)
	}

	// Raw code is never embedded. Absolute invariant, enforced again by
	// the store on insert.
	code = &types.Memory{
		Content:       extracted,
		Summary:       fmt.Sprintf("%s:%d-%d", req.FilePath, lineStart, lineEnd),
		Type:          types.TypeCode,
		Scope:         scope,
		Confidence:    1.0,
		Priority:      5,
		SourceType:    "code_index",
		SourceContext: sourceContext,
	}
	if _, err := store.Insert(ctx, code); err != nil {
		return nil, nil, fmt.Errorf("code index: insert code: %w", err)
	}

	if _, err := store.InsertEdge(ctx, &types.Edge{
		SourceID: prose.ID,
		TargetID: code.ID,
		Type:     types.RelSourceOf,
		Strength: 1.0,
	}); err != nil {
		return nil, nil, fmt.Errorf("code index: source_of edge: %w", err)
	}

	e.supersedePriorVersions(ctx, store, prose, code, prior)

	return prose, code, nil
}

// supersedePriorVersions marks the previous active pair superseded and
// links the replacements to them. The new pair is already committed, so a
// failure here leaves extra active versions rather than none; it is
// logged, not propagated.
func (e *Engine) supersedePriorVersions(ctx context.Context, store storage.Store, prose, code *types.Memory, prior []*types.Memory) {
	for _, old := range prior {
		if err := store.SetStatus(ctx, old.ID, types.StatusSuperseded); err != nil {
			log.Printf("engine: supersede %s: %v", old.ID, err)
			continue
		}

		successor := code
		if old.Type == types.TypeCodeDescription {
			successor = prose
		}
		if _, err := store.InsertEdge(ctx, &types.Edge{
			SourceID: successor.ID,
			TargetID: old.ID,
			Type:     types.RelSupersedes,
			Strength: 1.0,
		}); err != nil {
			log.Printf("engine: supersedes edge to %s: %v", old.ID, err)
		}
	}
}

// extractLines reads the 1-based inclusive line range from a file. Zero
// bounds default to the whole file; a blank result is ErrEmptyExtraction.
func extractLines(filePath string, lineStart, lineEnd int) (string, int, int, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", 0, 0, fmt.Errorf("code index: read %s: %w", filePath, err)
	}

	lines := strings.Split(string(data), "\n")
	if lineStart <= 0 {
		lineStart = 1
	}
	if lineEnd <= 0 || lineEnd > len(lines) {
		lineEnd = len(lines)
	}
	if lineStart > lineEnd || lineStart > len(lines) {
		return "", 0, 0, fmt.Errorf("%w: lines %d-%d of %s", storage.ErrEmptyExtraction, lineStart, lineEnd, filePath)
	}

	extracted := strings.Join(lines[lineStart-1:lineEnd], "\n")
	if strings.TrimSpace(extracted) == "" {
		return "", 0, 0, fmt.Errorf("%w: lines %d-%d of %s are blank", storage.ErrEmptyExtraction, lineStart, lineEnd, filePath)
	}
	return extracted, lineStart, lineEnd, nil
}
