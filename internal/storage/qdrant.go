package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantOptions configures a QdrantIndex.
type QdrantOptions struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// QdrantIndex is a VectorIndex backed by a Qdrant collection. Every point
// carries document_id, chunk_id and chunk_index in its payload, and every
// query is filtered on document_id.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantIndex creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantIndex(opts QdrantOptions) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	index := &QdrantIndex{
		client:     client,
		collection: opts.Collection,
		dimension:  opts.Dimension,
	}

	ctx := context.Background()
	if err := index.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return index, nil
}

func newRetryBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (q *QdrantIndex) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		return q.Health(ctx)
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

// Health performs a single health check against Qdrant.
func (q *QdrantIndex) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with cosine vectors and a keyword
// index on document_id. Idempotent.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Without this index every scoped query is a full payload scan.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to create index for field document_id: %w", err)
	}

	return nil
}

// Close closes the Qdrant client connection.
func (q *QdrantIndex) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// IndexChunks upserts chunk vectors in groups of 100. Point IDs are the chunk IDs,
// so re-indexing a chunk replaces its point.
func (q *QdrantIndex) IndexChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if len(chunk.Embedding) != q.dimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), q.dimension)
		}
	}

	const batchSize = 100
	for i := 0; i < len(chunks); i += batchSize {
		end := min(i+batchSize, len(chunks))

		points := make([]*qdrant.PointStruct, 0, end-i)
		for _, chunk := range chunks[i:end] {
			points = append(points, &qdrant.PointStruct{
				Id:      qdrant.NewIDUUID(chunk.ID),
				Vectors: qdrant.NewVectors(chunk.Embedding...),
				Payload: qdrant.NewValueMap(map[string]any{
					"document_id": chunk.DocumentID,
					"chunk_id":    chunk.ID,
					"chunk_index": chunk.ChunkIndex,
				}),
			})
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

func (q *QdrantIndex) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	return backoff.Retry(func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}, backoff.WithContext(newRetryBackoff(), ctx))
}

// TopKSimilar queries the collection filtered to documentID.
func (q *QdrantIndex) TopKSimilar(ctx context.Context, documentID string, query []float32, k int) ([]ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != q.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), q.dimension)
	}

	results, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         documentFilter(documentID),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, result := range results {
		payload := result.Payload
		// The filter already scopes the query; a mismatch means a corrupt payload.
		if payload["document_id"].GetStringValue() != documentID {
			continue
		}
		scored = append(scored, ScoredChunk{
			ChunkID:    payload["chunk_id"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
			Similarity: float64(result.Score),
		})
	}

	SortScored(scored)
	return scored, nil
}

// DeleteVectors removes all points of documentID.
func (q *QdrantIndex) DeleteVectors(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(documentFilter(documentID)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

// CountVectors returns the number of points stored for documentID.
func (q *QdrantIndex) CountVectors(ctx context.Context, documentID string) (uint64, error) {
	n, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count vectors: %w", err)
	}
	return n, nil
}

func documentFilter(documentID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("document_id", documentID),
		},
	}
}
