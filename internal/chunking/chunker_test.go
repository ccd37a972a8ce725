package chunking

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// words returns "<prefix>00 <prefix>01 ..." with n entries.
func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%02d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 4000), 1000},
		{"éééé", 1}, // counted in characters, not bytes
	}
	for _, tc := range tests {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

// TestChunkText_Empty tests that blank input produces no chunks.
func TestChunkText_Empty(t *testing.T) {
	c := NewChunker(0, 0)
	for _, input := range []string{"", "   ", "\n\n\n", " \n \n\t\n"} {
		if chunks := c.ChunkText(input); len(chunks) != 0 {
			t.Errorf("ChunkText(%q) returned %d chunks, want 0", input, len(chunks))
		}
	}
}

// TestChunkText_SingleParagraph tests that text under budget becomes one trimmed chunk.
func TestChunkText_SingleParagraph(t *testing.T) {
	input := "\n  Attention is all you need. We propose the Transformer.  \n"

	chunks := NewChunker(DefaultMaxTokens, DefaultOverlapTokens).ChunkText(input)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Content != strings.TrimSpace(input) {
		t.Errorf("Chunk content = %q, want %q", chunks[0].Content, strings.TrimSpace(input))
	}
	if chunks[0].Index != 0 {
		t.Errorf("Chunk index = %d, want 0", chunks[0].Index)
	}
}

// TestChunkText_ParagraphsFitTogether tests that small paragraphs share a chunk separated by a blank line.
func TestChunkText_ParagraphsFitTogether(t *testing.T) {
	input := "First paragraph.\n\nSecond paragraph.\n   \nThird paragraph."

	chunks := NewChunker(100, 15).ChunkText(input)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	want := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	if chunks[0].Content != want {
		t.Errorf("Chunk content = %q, want %q", chunks[0].Content, want)
	}
}

// TestChunkText_ParagraphBoundaryWithOverlap tests the boundary after paragraph 1
// and the word-level tail overlap at the start of chunk 2.
func TestChunkText_ParagraphBoundaryWithOverlap(t *testing.T) {
	p1 := words("a", 20) // 79 chars, 20 tokens
	p2 := words("b", 20)
	p3 := words("c", 20)
	input := p1 + "\n\n" + p2 + "\n\n" + p3

	// overlap/max = 0.2, so 4 of 20 words are carried forward.
	chunks := NewChunker(30, 6).ChunkText(input)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d: %q", len(chunks), chunks)
	}

	if chunks[0].Content != p1 {
		t.Errorf("Chunk 0 = %q, want paragraph 1", chunks[0].Content)
	}

	wantPrefix := "a16 a17 a18 a19\n\n"
	if !strings.HasPrefix(chunks[1].Content, wantPrefix) {
		t.Errorf("Chunk 1 should start with tail of paragraph 1, got %q", chunks[1].Content)
	}
	if chunks[1].Content != wantPrefix+p2 {
		t.Errorf("Chunk 1 = %q, want %q", chunks[1].Content, wantPrefix+p2)
	}

	if chunks[2].Content != "b16 b17 b18 b19\n\n"+p3 {
		t.Errorf("Chunk 2 = %q", chunks[2].Content)
	}
}

// TestChunkText_OversizedParagraphFallsBackToSentences tests sentence-level splitting.
func TestChunkText_OversizedParagraphFallsBackToSentences(t *testing.T) {
	var sentences []string
	for i := 0; i < 12; i++ {
		sentences = append(sentences, fmt.Sprintf("Sentence number %02d talks about results.", i))
	}
	// No blank lines: one giant paragraph.
	input := strings.Join(sentences, " ")

	c := NewChunker(40, 8)
	chunks := c.ChunkText(input)
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	for i, ch := range chunks {
		if EstimateTokens(ch.Content) > c.MaxTokens()+EstimateTokens(sentences[0]) {
			t.Errorf("Chunk %d is unexpectedly large: %d tokens", i, EstimateTokens(ch.Content))
		}
		if !strings.HasSuffix(ch.Content, ".") {
			t.Errorf("Chunk %d should end at a sentence boundary: %q", i, ch.Content)
		}
	}

	for _, s := range sentences {
		found := false
		for _, ch := range chunks {
			if strings.Contains(ch.Content, s) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Sentence %q not present in any chunk", s)
		}
	}
}

// TestChunkText_OversizedSentenceKeptWhole tests that a single long sentence is never cut.
func TestChunkText_OversizedSentenceKeptWhole(t *testing.T) {
	long := words("w", 200) + "."
	input := "Short intro sentence. " + long + " Short outro."

	chunks := NewChunker(50, 0).ChunkText(input)

	found := false
	for _, ch := range chunks {
		if strings.Contains(ch.Content, long) {
			found = true
		}
	}
	if !found {
		t.Fatalf("Oversized sentence was split across chunks: %q", chunks)
	}
}

// TestChunkText_TrailingTextWithoutTerminator tests that text after the last
// sentence terminator is not dropped.
func TestChunkText_TrailingTextWithoutTerminator(t *testing.T) {
	input := strings.Repeat("A measured sentence here. ", 20) + "trailing fragment without a period"

	chunks := NewChunker(30, 5).ChunkText(input)
	last := chunks[len(chunks)-1].Content
	if !strings.HasSuffix(last, "trailing fragment without a period") {
		t.Errorf("Trailing fragment dropped; last chunk = %q", last)
	}
}

// TestChunkText_CoversAllInput tests that every word of the input appears in some chunk.
func TestChunkText_CoversAllInput(t *testing.T) {
	var b strings.Builder
	for p := 0; p < 15; p++ {
		for s := 0; s < 1+p%4; s++ {
			fmt.Fprintf(&b, "Paragraph %d sentence %d mentions token p%ds%d. ", p, s, p, s)
		}
		if p%5 == 4 {
			b.WriteString(strings.Repeat(fmt.Sprintf("Long filler p%d. ", p), 60))
		}
		b.WriteString("\n\n")
	}
	input := b.String()

	chunks := NewChunker(60, 10).ChunkText(input)
	seen := make(map[string]bool)
	for _, ch := range chunks {
		for _, w := range strings.Fields(ch.Content) {
			seen[w] = true
		}
	}
	for _, w := range strings.Fields(input) {
		if !seen[w] {
			t.Errorf("Word %q missing from chunks", w)
		}
	}
}

// TestChunkText_Deterministic tests that identical input yields identical chunks.
func TestChunkText_Deterministic(t *testing.T) {
	input := strings.Repeat(words("x", 50)+". More text follows here!\n\n", 30)
	c := NewChunker(120, 20)

	first := c.ChunkText(input)
	for i := 0; i < 5; i++ {
		if again := c.ChunkText(input); !reflect.DeepEqual(first, again) {
			t.Fatalf("Run %d differs from first run", i)
		}
	}
}

// TestChunkText_IndicesContiguous tests that indices are 0..N-1 with no gaps.
func TestChunkText_IndicesContiguous(t *testing.T) {
	input := strings.Repeat(words("y", 40)+"\n\n", 25)
	chunks := NewChunker(50, 10).ChunkText(input)
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("Chunk %d has index %d", i, ch.Index)
		}
		if strings.TrimSpace(ch.Content) == "" {
			t.Errorf("Chunk %d is empty", i)
		}
	}
}

func TestNewChunker_Clamps(t *testing.T) {
	c := NewChunker(-1, -5)
	if c.MaxTokens() != DefaultMaxTokens || c.OverlapTokens() != 0 {
		t.Errorf("NewChunker(-1,-5) = (%d,%d)", c.MaxTokens(), c.OverlapTokens())
	}
	c = NewChunker(10, 10)
	if c.OverlapTokens() != 9 {
		t.Errorf("overlap should be clamped below max, got %d", c.OverlapTokens())
	}
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("Hello there. How are you?! Fine... thanks")
	want := []string{"Hello there.", "How are you?!", "Fine...", "thanks"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences = %q, want %q", got, want)
	}
}

func TestTokenCounter_Stats(t *testing.T) {
	counter, err := NewTokenCounter()
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}

	chunks := NewChunker(50, 5).ChunkText(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40))
	stats := counter.Stats(chunks, 50)

	if len(stats.Chunks) != len(chunks) {
		t.Fatalf("Expected %d stats, got %d", len(chunks), len(stats.Chunks))
	}
	for _, st := range stats.Chunks {
		if st.Actual <= 0 || st.Estimated <= 0 {
			t.Errorf("Chunk %d has zero counts: %+v", st.Index, st)
		}
	}
	if stats.MeanActual <= 0 {
		t.Errorf("MeanActual should be positive")
	}
}
