package chunking

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// tokenizerEncoding matches the embedding and chat models' tokenizer.
const tokenizerEncoding = "cl100k_base"

var (
	counterOnce sync.Once
	counter     *TokenCounter
	counterErr  error
)

// TokenCounter counts tokens with the real tokenizer. It exists to validate
// chunk-size distributions produced by the EstimateTokens heuristic, not to size chunks.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter returns the shared counter, loading the BPE ranks from the
// embedded offline loader on first use.
func NewTokenCounter() (*TokenCounter, error) {
	counterOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
		enc, err := tiktoken.GetEncoding(tokenizerEncoding)
		if err != nil {
			counterErr = fmt.Errorf("load %s encoding: %w", tokenizerEncoding, err)
			return
		}
		counter = &TokenCounter{encoding: enc}
	})
	return counter, counterErr
}

// Count returns the exact token count of text.
func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// ChunkStats compares estimated and exact token counts for one chunk.
type ChunkStats struct {
	Index     int
	Chars     int
	Estimated int
	Actual    int
}

// Summary aggregates ChunkStats over a chunking run.
type Summary struct {
	Chunks       []ChunkStats
	MaxActual    int
	MeanActual   float64
	OverBudget   int     // chunks whose exact count exceeds the chunker's budget
	MeanEstRatio float64 // mean of estimated/actual
}

// Stats measures every chunk with the real tokenizer. budget is the chunker's
// MaxTokens and is only used to count oversized chunks.
func (t *TokenCounter) Stats(chunks []Chunk, budget int) Summary {
	var s Summary
	if len(chunks) == 0 {
		return s
	}

	var totalActual int
	var totalRatio float64
	for _, ch := range chunks {
		st := ChunkStats{
			Index:     ch.Index,
			Chars:     len([]rune(ch.Content)),
			Estimated: EstimateTokens(ch.Content),
			Actual:    t.Count(ch.Content),
		}
		s.Chunks = append(s.Chunks, st)

		totalActual += st.Actual
		if st.Actual > s.MaxActual {
			s.MaxActual = st.Actual
		}
		if st.Actual > budget {
			s.OverBudget++
		}
		if st.Actual > 0 {
			totalRatio += float64(st.Estimated) / float64(st.Actual)
		}
	}

	s.MeanActual = float64(totalActual) / float64(len(chunks))
	s.MeanEstRatio = totalRatio / float64(len(chunks))
	return s
}
