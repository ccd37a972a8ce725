package storage

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// VectorIndex stores chunk embeddings and answers similarity queries scoped to
// a single document. Implementations never return chunks of another document.
type VectorIndex interface {
	// IndexChunks makes stored chunks searchable. Chunks must already exist in the SQLiteStore.
	IndexChunks(ctx context.Context, chunks []*Chunk) error

	// TopKSimilar returns up to k chunks of documentID ordered by cosine
	// similarity descending, ties broken by chunk index ascending.
	TopKSimilar(ctx context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error)

	// DeleteVectors removes every vector belonging to documentID.
	DeleteVectors(ctx context.Context, documentID string) error
}

// SQLiteVectorIndex runs an exact cosine scan over the embeddings stored in
// the chunks table. Indexing and deletion are handled by the store itself.
type SQLiteVectorIndex struct {
	store *SQLiteStore
}

// NewSQLiteVectorIndex returns a VectorIndex backed by store.
func NewSQLiteVectorIndex(store *SQLiteStore) *SQLiteVectorIndex {
	return &SQLiteVectorIndex{store: store}
}

// IndexChunks is a no-op: embeddings are written with the chunk rows.
func (s *SQLiteVectorIndex) IndexChunks(context.Context, []*Chunk) error { return nil }

// DeleteVectors is a no-op: chunk rows cascade with their document.
func (s *SQLiteVectorIndex) DeleteVectors(context.Context, string) error { return nil }

// TopKSimilar scores every chunk of documentID against query.
func (s *SQLiteVectorIndex) TopKSimilar(ctx context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}

	chunks, err := s.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != len(query) {
			return nil, fmt.Errorf("%w: chunk %d has %d dimensions, query has %d",
				ErrDimensionMismatch, c.ChunkIndex, len(c.Embedding), len(query))
		}
		scored = append(scored, ScoredChunk{
			ChunkID:    c.ID,
			ChunkIndex: c.ChunkIndex,
			Similarity: CosineSimilarity(query, c.Embedding),
		})
	}

	SortScored(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// SortScored orders by similarity descending, then chunk index ascending.
func SortScored(scored []ScoredChunk) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].ChunkIndex < scored[j].ChunkIndex
	})
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has zero magnitude.
func CosineSimilarity(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
