package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

// ProposedMemory is a single memory proposed by the extraction model,
// before any storage-level validation.
type ProposedMemory struct {
	Type       string   `json:"type"`
	Content    string   `json:"content"`
	Summary    string   `json:"summary"`
	Priority   int      `json:"priority"`
	Tags       []string `json:"tags"`
	Confidence float64  `json:"confidence"`
}

type extractionResponse struct {
	Memories []ProposedMemory `json:"memories"`
}

// MergeResult is the model's consolidation of several memories into one.
type MergeResult struct {
	Content string   `json:"content"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// PairClassification labels one ambiguous memory pair with a relation
// type. Pair numbers are 1-based, matching the prompt.
type PairClassification struct {
	Pair     int                `json:"pair"`
	Type     types.RelationType `json:"relation_type"`
	Strength float64            `json:"strength"`
}

type classificationResponse struct {
	Classifications []PairClassification `json:"classifications"`
}

// extractJSON extracts the first complete JSON object from text that may
// contain extra prose. Models add explanations around the JSON despite
// instructions; this finds the balanced outermost braces, honoring strings
// and escapes.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return text[start : i+1]
			}
		}
	}

	return text
}

// ParseExtractionResponse parses extraction JSON and filters out invalid
// entries. Unknown memory types, code types, empty content, and
// out-of-range confidence values are skipped rather than failing the
// batch; an error is returned only when the JSON itself is malformed.
func ParseExtractionResponse(jsonStr string) ([]ProposedMemory, error) {
	cleanJSON := extractJSON(jsonStr)

	var response extractionResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	valid := make([]ProposedMemory, 0, len(response.Memories))
	for _, m := range response.Memories {
		memType := types.MemoryType(strings.ToLower(strings.TrimSpace(m.Type)))
		if !types.IsValidMemoryType(memType) {
			continue
		}
		// Code memories only come from explicit indexing.
		if memType == types.TypeCode || memType == types.TypeCodeDescription {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Confidence < 0 || m.Confidence > 1 {
			continue
		}
		if m.Priority < 1 || m.Priority > 10 {
			m.Priority = 5
		}
		m.Type = string(memType)
		valid = append(valid, m)
	}
	return valid, nil
}

// ParseMergeResponse parses a consolidation merge response. The merged
// content must be non-empty; everything else is optional.
func ParseMergeResponse(jsonStr string) (*MergeResult, error) {
	cleanJSON := extractJSON(jsonStr)

	var result MergeResult
	if err := json.Unmarshal([]byte(cleanJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to parse merge JSON: %w", err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return nil, fmt.Errorf("merge response has empty content")
	}
	return &result, nil
}

// ParseClassificationResponse parses the batched relationship
// classification response. Entries referencing unknown pair numbers,
// non-classifiable relation types, or out-of-range strengths are skipped,
// never coerced; supersedes in particular can only be produced by
// consolidation or re-indexing, not by the classifier.
func ParseClassificationResponse(jsonStr string, pairCount int) ([]PairClassification, error) {
	cleanJSON := extractJSON(jsonStr)

	var response classificationResponse
	if err := json.Unmarshal([]byte(cleanJSON), &response); err != nil {
		return nil, fmt.Errorf("failed to parse classification JSON: %w", err)
	}

	valid := make([]PairClassification, 0, len(response.Classifications))
	seen := make(map[int]bool, len(response.Classifications))
	for _, c := range response.Classifications {
		if c.Pair < 1 || c.Pair > pairCount || seen[c.Pair] {
			continue
		}
		if !types.IsClassifiableRelationType(c.Type) {
			continue
		}
		if c.Strength < 0 || c.Strength > 1 {
			continue
		}
		seen[c.Pair] = true
		valid = append(valid, c)
	}
	return valid, nil
}
