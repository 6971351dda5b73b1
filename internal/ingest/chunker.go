// Package ingest turns documents on disk into chunks for the graph builder.
// The scanner walks configured roots and skips files whose content hash has
// not changed; the chunker splits changed documents on sentence boundaries;
// the watcher re-ingests files as they change.
package ingest

import (
	"strings"
	"unicode"
)

// Chunker splits document content into overlapping chunks. It respects
// sentence boundaries to keep co-occurrence extraction meaningful and adds
// overlap so entities near a boundary appear in both chunks.
type Chunker struct {
	MaxChunkSize int // Maximum chunk size in characters (default: 1200)
	Overlap      int // Overlap size in characters (default: 100)
}

// NewChunker creates a chunker, applying defaults for non-positive values.
func NewChunker(maxChunkSize, overlap int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 1200
	}
	if overlap < 0 || overlap >= maxChunkSize {
		overlap = 100
	}
	return &Chunker{MaxChunkSize: maxChunkSize, Overlap: overlap}
}

// Chunk splits content into overlapping chunks. Empty chunks are filtered
// out and duplicate chunks are removed.
func (c *Chunker) Chunk(content string) []string {
	if len(strings.TrimSpace(content)) == 0 {
		return []string{}
	}

	// If content fits in a single chunk, return it as-is.
	if len(content) <= c.MaxChunkSize {
		return []string{content}
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return []string{}
	}

	var chunks []string
	var currentChunk strings.Builder
	var previousSentences []string // for overlap

	for _, sentence := range sentences {
		// If adding this sentence would exceed the limit, close the chunk.
		if currentChunk.Len()+len(sentence) > c.MaxChunkSize && currentChunk.Len() > 0 {
			chunks = append(chunks, currentChunk.String())
			currentChunk.Reset()

			// Seed the next chunk with as many trailing sentences as fit
			// in the overlap budget.
			overlapChars := 0
			overlapStart := len(previousSentences)
			for i := len(previousSentences) - 1; i >= 0; i-- {
				if overlapChars+len(previousSentences[i]) > c.Overlap {
					break
				}
				overlapChars += len(previousSentences[i])
				overlapStart = i
			}
			for i := overlapStart; i < len(previousSentences); i++ {
				currentChunk.WriteString(previousSentences[i])
			}
			previousSentences = previousSentences[overlapStart:]
		}

		currentChunk.WriteString(sentence)
		previousSentences = append(previousSentences, sentence)

		// Keep the overlap window bounded.
		if len(previousSentences) > 50 {
			previousSentences = previousSentences[len(previousSentences)-50:]
		}
	}

	if currentChunk.Len() > 0 {
		chunks = append(chunks, currentChunk.String())
	}

	return deduplicateChunks(chunks)
}

// splitSentences splits text into sentences using common sentence
// terminators, keeping the terminator and trailing space with the sentence.
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
		if r == '\n' {
			flush()
			continue
		}

		if i+1 >= len(runes) {
			flush()
			continue
		}

		// A terminator followed by whitespace and an uppercase letter is
		// treated as a sentence boundary; this keeps abbreviations like
		// "e.g. something" together most of the time.
		if unicode.IsSpace(runes[i+1]) {
			current.WriteRune(runes[i+1])
			i++
			if i+1 >= len(runes) || unicode.IsUpper(runes[i+1]) {
				flush()
			}
		}
	}

	if current.Len() > 0 {
		flush()
	}

	return sentences
}

// deduplicateChunks removes duplicate chunks while preserving order.
func deduplicateChunks(chunks []string) []string {
	if len(chunks) == 0 {
		return chunks
	}

	seen := make(map[string]bool, len(chunks))
	result := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if !seen[chunk] {
			seen[chunk] = true
			result = append(result, chunk)
		}
	}
	return result
}
