package llm

import (
	"strings"
	"unicode"
)

// Chunker splits large transcripts into LLM-processable chunks. Splitting
// is sentence-aware to keep each chunk coherent, with configurable token
// overlap so context survives chunk boundaries.
type Chunker struct {
	MaxChunkSize int // maximum chunk size in tokens (default: 3000)
	Overlap      int // overlap size in tokens (default: 200)
}

// Chunk splits content into overlapping chunks. Content that fits within
// MaxChunkSize is returned unsplit. Empty and duplicate chunks are dropped.
func (c *Chunker) Chunk(content string) []string {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 3000
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}

	if len(strings.TrimSpace(content)) == 0 {
		return []string{}
	}
	if EstimateTokens(content) <= c.MaxChunkSize {
		return []string{content}
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return []string{}
	}

	var chunks []string
	var current strings.Builder
	var currentTokens int
	var tail []string // sentences carried into the next chunk's overlap

	for _, sentence := range sentences {
		sentenceTokens := EstimateTokens(sentence)

		if currentTokens+sentenceTokens > c.MaxChunkSize && currentTokens > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0

			overlapTokens := 0
			start := len(tail)
			for i := len(tail) - 1; i >= 0; i-- {
				t := EstimateTokens(tail[i])
				if overlapTokens+t > c.Overlap {
					break
				}
				overlapTokens += t
				start = i
			}
			for i := start; i < len(tail); i++ {
				current.WriteString(tail[i])
				currentTokens += EstimateTokens(tail[i])
			}
			tail = tail[start:]
		}

		current.WriteString(sentence)
		currentTokens += sentenceTokens
		tail = append(tail, sentence)
		if len(tail) > 50 {
			tail = tail[len(tail)-50:]
		}
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}

	return dedupeChunks(chunks)
}

// EstimateTokens estimates token count at roughly 4 characters per token,
// a reasonable approximation for English text with GPT-style tokenizers.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// splitSentences splits text on sentence terminators, keeping terminators
// and trailing whitespace attached to the sentence they end.
func splitSentences(text string) []string {
	if len(text) == 0 {
		return []string{}
	}

	var sentences []string
	var current strings.Builder
	runes := []rune(text)

	flush := func() {
		if s := current.String(); len(strings.TrimSpace(s)) > 0 {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' && r != '\n' {
			continue
		}
		if i+1 >= len(runes) {
			flush()
			continue
		}
		next := runes[i+1]
		if r == '\n' {
			flush()
			continue
		}
		if unicode.IsSpace(next) {
			current.WriteRune(next)
			i++
			if i+1 >= len(runes) || unicode.IsUpper(runes[i+1]) {
				flush()
			}
		}
	}
	flush()

	return sentences
}

// dedupeChunks removes duplicate chunks while preserving order.
func dedupeChunks(chunks []string) []string {
	if len(chunks) == 0 {
		return chunks
	}
	seen := make(map[string]bool, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if !seen[chunk] {
			seen[chunk] = true
			out = append(out, chunk)
		}
	}
	return out
}
