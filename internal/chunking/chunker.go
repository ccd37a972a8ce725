// Package chunking splits extracted document text into overlapping chunks sized
// by an estimated token budget.
package chunking

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxTokens is the estimated token budget of a single chunk.
	DefaultMaxTokens = 1000

	// DefaultOverlapTokens is the estimated number of tokens carried from one chunk into the next.
	DefaultOverlapTokens = 150

	// charsPerToken is the heuristic used by EstimateTokens.
	charsPerToken = 4
)

// paragraphBreak matches a blank line, possibly containing whitespace.
var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Chunk is one ordered piece of a document.
type Chunk struct {
	Index   int    // Position in document (0, 1, 2...)
	Content string // Trimmed chunk text, including any overlap carried from the previous chunk
}

// Chunker splits text at paragraph boundaries, falling back to sentence
// boundaries for paragraphs that alone exceed the budget.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// NewChunker creates a chunker. Non-positive maxTokens selects DefaultMaxTokens;
// overlapTokens is clamped to [0, maxTokens).
func NewChunker(maxTokens, overlapTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens}
}

// MaxTokens returns the configured chunk budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// OverlapTokens returns the configured overlap budget.
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// EstimateTokens approximates the tokenizer output as ceil(characters / 4).
// It is a sizing heuristic, not an exact count; see TokenCounter for the real tokenizer.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + charsPerToken - 1) / charsPerToken
}

// Split returns the chunk contents for text in reading order.
func (c *Chunker) Split(text string) []string {
	chunks := c.ChunkText(text)
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Content
	}
	return out
}

// ChunkText splits text into ordered chunks. Empty or whitespace-only input yields no chunks.
//
// Paragraphs are accumulated until the next one would exceed the budget. The
// emitted chunk's trailing words (overlapTokens/maxTokens of its word count)
// seed the next chunk. A paragraph larger than the budget is split into
// sentences that are accumulated the same way; a single sentence larger than
// the budget is kept whole.
func (c *Chunker) ChunkText(text string) []Chunk {
	b := &builder{maxTokens: c.maxTokens, overlapTokens: c.overlapTokens}

	for _, paragraph := range splitParagraphs(text) {
		paragraphTokens := EstimateTokens(paragraph)

		if paragraphTokens > c.maxTokens {
			b.emitCurrent()
			for _, sentence := range splitSentences(paragraph) {
				b.add(sentence, " ")
			}
			continue
		}

		b.add(paragraph, "\n\n")
	}
	b.emitCurrent()

	chunks := make([]Chunk, len(b.out))
	for i, content := range b.out {
		chunks[i] = Chunk{Index: i, Content: content}
	}
	return chunks
}

// builder holds the running chunk while paragraphs or sentences are accumulated.
type builder struct {
	maxTokens     int
	overlapTokens int

	current strings.Builder
	tokens  int
	out     []string
}

// add appends piece followed by sep, emitting the running chunk first when
// piece would push it past the budget.
func (b *builder) add(piece, sep string) {
	pieceTokens := EstimateTokens(piece)

	if b.tokens+pieceTokens > b.maxTokens && b.hasContent() {
		previous := b.current.String()
		b.emitCurrent()

		if tail := overlapTail(previous, b.overlapTokens, b.maxTokens); tail != "" {
			b.current.WriteString(tail)
			b.current.WriteString(sep)
			b.tokens = EstimateTokens(b.current.String())
		}
	}

	b.current.WriteString(piece)
	b.current.WriteString(sep)
	b.tokens += pieceTokens
}

// emitCurrent appends the trimmed running chunk to the output and resets it.
func (b *builder) emitCurrent() {
	if content := strings.TrimSpace(b.current.String()); content != "" {
		b.out = append(b.out, content)
	}
	b.current.Reset()
	b.tokens = 0
}

func (b *builder) hasContent() bool {
	return strings.TrimSpace(b.current.String()) != ""
}

// overlapTail returns the last floor(words * overlapTokens/maxTokens) words of chunk.
func overlapTail(chunk string, overlapTokens, maxTokens int) string {
	words := strings.Fields(chunk)
	n := len(words) * overlapTokens / maxTokens
	if n <= 0 {
		return ""
	}
	return strings.Join(words[len(words)-n:], " ")
}

// splitParagraphs splits on blank lines and drops empty paragraphs.
func splitParagraphs(text string) []string {
	parts := paragraphBreak.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitSentences cuts text after each run of '.', '!' or '?'. Text after the
// last terminator becomes a final sentence so nothing is dropped.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	inTerminator := false

	for i, r := range text {
		isTerminator := r == '.' || r == '!' || r == '?'
		if inTerminator && !isTerminator {
			if s := strings.TrimSpace(text[start:i]); s != "" {
				sentences = append(sentences, s)
			}
			start = i
		}
		inTerminator = isTerminator
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}

	if len(sentences) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return sentences
}
