package llm

import (
	"fmt"
	"strings"

	"github.com/mnemon-dev/mnemon/pkg/types"
)

// memoryTypeDescriptions maps extractable memory types to brief
// descriptions for prompts. Code types are excluded: code memories are
// created by explicit indexing, never by transcript extraction.
var memoryTypeDescriptions = map[types.MemoryType]string{
	types.TypeArchitecture: "How the system is structured and why",
	types.TypeDecision:     "A choice that was made, with its rationale",
	types.TypePattern:      "A convention or recurring approach in this codebase",
	types.TypeGotcha:       "A pitfall, surprise, or non-obvious constraint",
	types.TypeContext:      "Background knowledge about the project or its domain",
	types.TypeProgress:     "Current state of in-flight work",
}

// ExtractionPrompt generates a strict JSON-only prompt asking the model to
// extract durable memories from a session transcript. Git context is
// included when available so extracted memories can reference the branch
// and recent changes.
func ExtractionPrompt(transcript, gitContext string) string {
	var typeList strings.Builder
	for _, t := range []types.MemoryType{
		types.TypeArchitecture, types.TypeDecision, types.TypePattern,
		types.TypeGotcha, types.TypeContext, types.TypeProgress,
	} {
		fmt.Fprintf(&typeList, "- %s: %s\n", t, memoryTypeDescriptions[t])
	}

	contextSection := ""
	if gitContext != "" {
		contextSection = "REPOSITORY CONTEXT:\n" + gitContext + "\n\n"
	}

	return fmt.Sprintf(`TASK: Extract durable memories from a coding session transcript.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

Extract facts worth remembering across sessions: decisions and their
rationale, architectural knowledge, conventions, pitfalls, project context,
and the state of unfinished work. Skip small talk, transient tool output,
and anything already obvious from the code itself.

MEMORY TYPES (ONLY these):
%s
REQUIRED JSON STRUCTURE:
Your response MUST start with { and end with }
{
  "memories": [
    {"type":"decision","content":"full detail of the fact","summary":"one-line gist","priority":7,"tags":["auth"],"confidence":0.9}
  ]
}

VALIDATION (STRICT):
1. "memories" must be an array (empty array if nothing worth keeping)
2. Each entry has exactly: type, content, summary, priority, tags, confidence
3. type is one of the listed memory types
4. priority is an integer 1-10
5. confidence is 0.0-1.0
6. summary is at most 200 characters
7. No trailing commas, no null values

%sTRANSCRIPT:
%s

RESPOND WITH ONLY THE JSON OBJECT (nothing else):`, typeList.String(), contextSection, transcript)
}

// MergePrompt generates a prompt asking the model to consolidate several
// near-duplicate memories of the same type into one, preserving every
// detail that appears in only one of the sources.
func MergePrompt(memType types.MemoryType, contents []string) string {
	var sources strings.Builder
	for i, c := range contents {
		fmt.Fprintf(&sources, "SOURCE %d:\n%s\n\n", i+1, c)
	}

	return fmt.Sprintf(`TASK: Merge %d overlapping "%s" memories into ONE memory.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

Rules:
- Keep every detail that appears in only one source; nothing unique may be lost.
- Remove exact duplication; do not paraphrase away specifics.
- The merged content must stand alone without the sources.

REQUIRED JSON STRUCTURE:
{"content":"merged memory text","summary":"one-line gist (max 200 chars)","tags":["..."]}

%sRESPOND WITH ONLY THE JSON OBJECT (nothing else):`, len(contents), memType, sources.String())
}

// RelationshipClassificationPrompt generates one batched prompt
// classifying every ambiguous memory pair in a single call. Pairs are
// numbered from 1; the response references them by number.
func RelationshipClassificationPrompt(pairs [][2]string) string {
	var pairList strings.Builder
	for i, p := range pairs {
		fmt.Fprintf(&pairList, "PAIR %d:\nA: %s\nB: %s\n\n", i+1, p[0], p[1])
	}

	var typeList strings.Builder
	for _, t := range types.ClassifiableRelationTypes {
		fmt.Fprintf(&typeList, "%s ", t)
	}

	return fmt.Sprintf(`TASK: Classify the relationship from memory A to memory B for each pair.
OUTPUT: ONLY valid JSON. NO markdown. NO code blocks. NO backticks.

RELATION TYPES (ONLY these): %s

REQUIRED JSON STRUCTURE:
{
  "classifications": [
    {"pair":1,"relation_type":"refines","strength":0.8}
  ]
}

VALIDATION (STRICT):
1. One entry per pair, referenced by its number
2. relation_type is one of the listed types
3. strength is 0.0-1.0
4. Omit a pair entirely if no meaningful relationship exists

%sRESPOND WITH ONLY THE JSON OBJECT (nothing else):`, strings.TrimSpace(typeList.String()), pairList.String())
}
