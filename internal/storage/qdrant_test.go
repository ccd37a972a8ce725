//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

// setupTestIndex creates a test index on a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestIndex(t *testing.T) *QdrantIndex {
	index, err := NewQdrantIndex(QdrantOptions{
		Host:       "localhost",
		Port:       6334,
		Collection: "paperchat_test_" + uuid.New().String()[:8],
		Dimension:  testDimension,
	})
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	err = index.EnsureCollection(context.Background())
	require.NoError(t, err, "Failed to ensure collection")

	t.Cleanup(func() {
		_ = index.client.DeleteCollection(context.Background(), index.collection)
		index.Close()
	})
	return index
}

func unitVector(axis int) []float32 {
	v := make([]float32, testDimension)
	v[axis%testDimension] = 1
	return v
}

func TestQdrantIndex_TopKSimilar(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	docID := uuid.New().String()
	chunks := []*Chunk{
		{ID: uuid.New().String(), DocumentID: docID, ChunkIndex: 0, Embedding: unitVector(0)},
		{ID: uuid.New().String(), DocumentID: docID, ChunkIndex: 1, Embedding: unitVector(1)},
		{ID: uuid.New().String(), DocumentID: docID, ChunkIndex: 2, Embedding: []float32{1, 1, 0, 0, 0, 0, 0, 0}},
	}
	require.NoError(t, index.IndexChunks(ctx, chunks))

	results, err := index.TopKSimilar(ctx, docID, unitVector(0), 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, chunks[0].ID, results[0].ChunkID)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)
	assert.Equal(t, 2, results[1].ChunkIndex)
}

func TestQdrantIndex_ScopedToDocument(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	docA, docB := uuid.New().String(), uuid.New().String()
	require.NoError(t, index.IndexChunks(ctx, []*Chunk{
		{ID: uuid.New().String(), DocumentID: docA, ChunkIndex: 0, Embedding: unitVector(3)},
		{ID: uuid.New().String(), DocumentID: docB, ChunkIndex: 0, Embedding: unitVector(3)},
		{ID: uuid.New().String(), DocumentID: docB, ChunkIndex: 1, Embedding: unitVector(3)},
	}))

	results, err := index.TopKSimilar(ctx, docA, unitVector(3), 10)
	require.NoError(t, err)
	assert.Len(t, results, 1, "Only document A's chunk may be returned")
}

func TestQdrantIndex_DeleteVectors(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	docID := uuid.New().String()
	require.NoError(t, index.IndexChunks(ctx, []*Chunk{
		{ID: uuid.New().String(), DocumentID: docID, ChunkIndex: 0, Embedding: unitVector(0)},
	}))

	n, err := index.CountVectors(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	require.NoError(t, index.DeleteVectors(ctx, docID))

	n, err = index.CountVectors(ctx, docID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQdrantIndex_BatchUpsert(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	docID := uuid.New().String()
	chunks := make([]*Chunk, 250) // more than one batch of 100
	for i := range chunks {
		chunks[i] = &Chunk{ID: uuid.New().String(), DocumentID: docID, ChunkIndex: i, Embedding: unitVector(i)}
	}
	require.NoError(t, index.IndexChunks(ctx, chunks))

	n, err := index.CountVectors(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), n)
}

func TestQdrantIndex_DimensionValidation(t *testing.T) {
	index := setupTestIndex(t)
	ctx := context.Background()

	wrong := &Chunk{ID: uuid.New().String(), DocumentID: uuid.New().String(), Embedding: make([]float32, 3)}
	err := index.IndexChunks(ctx, []*Chunk{wrong})
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong embedding dimension")

	_, err = index.TopKSimilar(ctx, wrong.DocumentID, make([]float32, 3), 5)
	assert.ErrorIs(t, err, ErrDimensionMismatch, "Should reject wrong query dimension")
}
