package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/literaq/paperchat/internal/chunking"
	"github.com/literaq/paperchat/internal/storage"
)

// fakeEmbedder returns [hash(text), 1] for each text and fails on the
// configured call number (1-based).
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      atomic.Int32
	failOnCall int32
	requests   [][]string
}

var errEmbed = errors.New("embedding service unavailable")

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	call := f.calls.Add(1)

	f.mu.Lock()
	f.requests = append(f.requests, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.failOnCall != 0 && call == f.failOnCall {
		return nil, errEmbed
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func vectorFor(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	return []float32{float32(h.Sum32() % 100000), 1}
}

var errIndex = errors.New("vector index unavailable")

// recordingIndex wraps the SQLite index, records IndexChunks/DeleteVectors
// calls and tracks which chunk indices are currently indexed, as an external
// index like Qdrant would hold them. IndexChunks fails on call failOnCall
// (1-based). The hooks run before the wrapped call.
type recordingIndex struct {
	*storage.SQLiteVectorIndex
	indexed    int
	deletes    int
	calls      int
	failOnCall int
	members    map[int]bool
	onIndex    func()
	onDelete   func()
}

func (r *recordingIndex) IndexChunks(ctx context.Context, chunks []*storage.Chunk) error {
	r.calls++
	if r.onIndex != nil {
		r.onIndex()
	}
	if r.failOnCall != 0 && r.calls == r.failOnCall {
		return errIndex
	}
	r.indexed += len(chunks)
	for _, c := range chunks {
		r.members[c.ChunkIndex] = true
	}
	return r.SQLiteVectorIndex.IndexChunks(ctx, chunks)
}

func (r *recordingIndex) DeleteVectors(ctx context.Context, documentID string) error {
	r.deletes++
	if r.onDelete != nil {
		r.onDelete()
	}
	clear(r.members)
	return r.SQLiteVectorIndex.DeleteVectors(ctx, documentID)
}

// paperText returns n paragraphs of ~40 estimated tokens each. With a
// 50-token budget and no overlap every paragraph becomes its own chunk.
func paperText(n int, tag string) string {
	paragraphs := make([]string, n)
	for i := range paragraphs {
		paragraphs[i] = fmt.Sprintf("%s paragraph %02d ", tag, i) + strings.Repeat("lorem ipsum ", 12)
	}
	return strings.Join(paragraphs, "\n\n")
}

type fixture struct {
	store    *storage.SQLiteStore
	index    *recordingIndex
	embedder *fakeEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index := &recordingIndex{SQLiteVectorIndex: storage.NewSQLiteVectorIndex(store), members: make(map[int]bool)}
	embedder := &fakeEmbedder{}
	return &fixture{
		store:    store,
		index:    index,
		embedder: embedder,
		pipeline: NewPipeline(store, index, chunking.NewChunker(50, 0), embedder, opts, nil),
	}
}

func (f *fixture) newDocument(t *testing.T) *storage.Document {
	t.Helper()
	doc := &storage.Document{Title: "paper"}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc
}

func TestIngest_StoresContiguousChunks(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	ctx := context.Background()
	doc := f.newDocument(t)

	result, err := f.pipeline.Ingest(ctx, doc.ID, paperText(10, "A"))
	require.NoError(t, err)

	assert.Equal(t, 10, result.Chunks)
	assert.Equal(t, 10, result.Embedded)
	assert.Equal(t, 4, result.Batches)
	assert.False(t, result.Resumed)
	assert.Equal(t, int32(4), f.embedder.calls.Load(), "One embedding request per batch")
	assert.Equal(t, 10, f.index.indexed)

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, got.Status)
	assert.Equal(t, 10, got.CommittedChunks)
	assert.Equal(t, 10, got.ChunkCount)

	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 10)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, vectorFor(c.Content), c.Embedding, "Chunk %d stored with another chunk's vector", i)
	}
}

func TestSubmit_CreatesAndIngests(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 20})

	doc, result, err := f.pipeline.Submit(context.Background(), &storage.Document{Title: "t", Filename: "t.pdf"}, paperText(2, "S"))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, 2, result.Chunks)

	got, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, got.Status)
}

func TestIngest_FailureKeepsCommittedBatches(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	f.embedder.failOnCall = 2
	ctx := context.Background()
	doc := f.newDocument(t)

	result, err := f.pipeline.Ingest(ctx, doc.ID, paperText(10, "A"))
	require.ErrorIs(t, err, errEmbed)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, int32(2), f.embedder.calls.Load(), "Remaining batches must be aborted")

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "embedding service unavailable")
	assert.Equal(t, 3, got.CommittedChunks)

	n, err := f.store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "Chunks of the committed batch are kept")
}

func TestRetry_ResumesFromCommittedBatch(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	f.embedder.failOnCall = 2
	ctx := context.Background()
	doc := f.newDocument(t)
	text := paperText(10, "A")

	_, err := f.pipeline.Ingest(ctx, doc.ID, text)
	require.Error(t, err)

	f.embedder.failOnCall = 0
	f.embedder.requests = nil

	result, err := f.pipeline.Retry(ctx, doc.ID, text)
	require.NoError(t, err)
	assert.True(t, result.Resumed)
	assert.Equal(t, 7, result.Embedded, "Only uncommitted chunks are embedded again")
	require.NotEmpty(t, f.embedder.requests)
	assert.True(t, strings.HasPrefix(f.embedder.requests[0][0], "A paragraph 03"))

	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 10)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
	}

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, got.Status)
	assert.Empty(t, got.Error)
}

func TestRetry_IndexesBatchCommittedBeforeIndexFailure(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	f.index.failOnCall = 2
	ctx := context.Background()
	doc := f.newDocument(t)
	text := paperText(10, "A")

	_, err := f.pipeline.Ingest(ctx, doc.ID, text)
	require.ErrorIs(t, err, errIndex)

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, storage.StatusFailed, got.Status)
	require.Equal(t, 6, got.CommittedChunks, "Rows of the second batch are committed")
	assert.False(t, f.index.members[3], "Second batch never reached the index")

	f.index.failOnCall = 0
	result, err := f.pipeline.Retry(ctx, doc.ID, text)
	require.NoError(t, err)
	assert.True(t, result.Resumed)

	got, err = f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, got.Status)
	for i := 0; i < 10; i++ {
		assert.True(t, f.index.members[i], "Chunk %d missing from the vector index", i)
	}
}

func TestRetry_ChangedTextRestarts(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	f.embedder.failOnCall = 2
	ctx := context.Background()
	doc := f.newDocument(t)

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(10, "A"))
	require.Error(t, err)
	f.embedder.failOnCall = 0

	result, err := f.pipeline.Retry(ctx, doc.ID, paperText(4, "B"))
	require.NoError(t, err)
	assert.False(t, result.Resumed)
	assert.Equal(t, 4, result.Embedded)
	assert.Equal(t, 1, f.index.deletes, "Stale vectors are dropped before restarting")

	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Content, "B "), "Old chunk survived restart: %q", c.Content)
	}
}

func TestIngest_ReadyDocumentRejected(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	doc := f.newDocument(t)

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(1, "A"))
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(ctx, doc.ID, paperText(1, "A"))
	assert.ErrorIs(t, err, ErrAlreadyReady)
}

func TestRetry_RequiresFailedDocument(t *testing.T) {
	f := newFixture(t, Options{})
	doc := f.newDocument(t)

	_, err := f.pipeline.Retry(context.Background(), doc.ID, paperText(1, "A"))
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestIngest_UnknownDocument(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.pipeline.Ingest(context.Background(), "missing", "text")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestIngest_EmptyTextFails(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	doc := f.newDocument(t)

	_, err := f.pipeline.Ingest(ctx, doc.ID, "  \n\n  ")
	require.ErrorIs(t, err, ErrNoText)
	assert.Zero(t, f.embedder.calls.Load())

	got, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
}

func TestIngest_ConcurrentBatchPreservesOrder(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 7, Concurrency: 3})
	ctx := context.Background()
	doc := f.newDocument(t)

	result, err := f.pipeline.Ingest(ctx, doc.ID, paperText(14, "C"))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, int32(6), f.embedder.calls.Load(), "Three requests per batch")

	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 14)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, vectorFor(c.Content), c.Embedding)
	}
}

func TestIngest_CancelledContextMarksFailed(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	doc := f.newDocument(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(5, "A"))
	require.Error(t, err)

	got, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, storage.StatusReady, got.Status)
}

func TestIngest_MarkReadyFailureMarksFailed(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	doc := f.newDocument(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The last batch cancels the run after its vectors are indexed, so only
	// the final status write sees the cancellation.
	f.index.onIndex = func() {
		if f.index.calls == 2 {
			cancel()
		}
	}

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(5, "A"))
	require.ErrorIs(t, err, context.Canceled)

	got, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "mark ready")
}

func TestRetry_BeginIngestionFailureMarksFailed(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	f.embedder.failOnCall = 2
	doc := f.newDocument(t)

	_, err := f.pipeline.Ingest(context.Background(), doc.ID, paperText(10, "A"))
	require.Error(t, err)
	f.embedder.failOnCall = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Changed text drops stale vectors first; cancelling there makes the
	// ingestion reset fail.
	f.index.onDelete = cancel

	_, err = f.pipeline.Retry(ctx, doc.ID, paperText(4, "B"))
	require.ErrorIs(t, err, context.Canceled)

	got, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusFailed, got.Status, "A failed reset must stay retryable")
	assert.Contains(t, got.Error, "begin ingestion")
}

func TestIngest_RejectsConcurrentRunForSameDocument(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 3})
	ctx := context.Background()
	doc := f.newDocument(t)
	other := f.newDocument(t)

	var sameErr, otherErr error
	f.index.onIndex = func() {
		if f.index.calls == 1 {
			_, sameErr = f.pipeline.Ingest(ctx, doc.ID, paperText(2, "B"))
			_, otherErr = f.pipeline.Ingest(ctx, other.ID, paperText(1, "C"))
		}
	}

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(5, "A"))
	require.NoError(t, err)
	assert.ErrorIs(t, sameErr, ErrInProgress)
	assert.NoError(t, otherErr, "Other documents are not blocked")

	chunks, err := f.store.ListChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Content, "A "))
	}

	_, err = f.pipeline.Ingest(ctx, doc.ID, paperText(5, "A"))
	assert.ErrorIs(t, err, ErrAlreadyReady, "The document is released once the run ends")
}

func TestReindex(t *testing.T) {
	f := newFixture(t, Options{BatchSize: 4})
	ctx := context.Background()
	doc := f.newDocument(t)

	_, err := f.pipeline.Ingest(ctx, doc.ID, paperText(9, "R"))
	require.NoError(t, err)
	f.index.indexed = 0

	n, err := f.pipeline.Reindex(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, 9, f.index.indexed)
	assert.Equal(t, 1, f.index.deletes)
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, contentHash("a"), contentHash("a"))
	assert.NotEqual(t, contentHash("a"), contentHash("b"))
	assert.Len(t, contentHash(""), 64)
}
