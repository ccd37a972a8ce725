// Package ingest turns extracted paper text into stored, embedded chunks.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/literaq/paperchat/internal/chunking"
	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/storage"
)

const (
	// DefaultBatchSize is the number of chunks embedded and committed together.
	DefaultBatchSize = 20

	maxDiagnosticLen = 200
)

var (
	// ErrAlreadyReady is returned when ingesting a document that is already ready.
	ErrAlreadyReady = errors.New("document is already ready")

	// ErrNotFailed is returned by Retry for a document that is not in the failed state.
	ErrNotFailed = errors.New("document is not in failed state")

	// ErrNoText is returned when the text yields no chunks.
	ErrNoText = errors.New("no text to ingest")

	// ErrInProgress is returned when another run is ingesting the same document.
	ErrInProgress = errors.New("document is already being ingested")
)

// Embedder returns one vector per text, in input order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes batching.
type Options struct {
	BatchSize   int // chunks per committed batch
	Concurrency int // embedding requests issued in parallel within one batch
}

// Result contains statistics about an ingestion run.
type Result struct {
	DocumentID string
	Chunks     int // total chunks for the text
	Embedded   int // chunks embedded by this run
	Batches    int // batches committed by this run
	Resumed    bool
	Duration   time.Duration
}

// Pipeline orchestrates chunking, embedding and persistence of one document at a time.
type Pipeline struct {
	store    *storage.SQLiteStore
	vectors  storage.VectorIndex
	chunker  *chunking.Chunker
	embedder Embedder
	opts     Options
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]struct{} // documents with a run in flight
}

// NewPipeline creates a new ingestion pipeline with the given components.
func NewPipeline(
	store *storage.SQLiteStore,
	vectors storage.VectorIndex,
	chunker *chunking.Chunker,
	embedder Embedder,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		store:    store,
		vectors:  vectors,
		chunker:  chunker,
		embedder: embedder,
		opts:     opts,
		logger:   logging.OrDefault(logger),
		active:   make(map[string]struct{}),
	}
}

// Submit creates doc in the processing state and ingests text into it.
// The created document is returned even when ingestion fails.
func (p *Pipeline) Submit(ctx context.Context, doc *storage.Document, text string) (*storage.Document, *Result, error) {
	doc.Status = storage.StatusProcessing
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	result, err := p.Ingest(ctx, doc.ID, text)
	return doc, result, err
}

// Retry re-runs ingestion of a failed document, resuming from its last
// committed batch when text is unchanged.
func (p *Pipeline) Retry(ctx context.Context, documentID, text string) (*Result, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != storage.StatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotFailed, doc.Status)
	}
	return p.Ingest(ctx, documentID, text)
}

// Ingest chunks text, embeds the chunks batch by batch and stores them under
// documentID. Batches run sequentially; within a batch up to Concurrency
// embedding requests run in parallel and the batch is committed in one
// transaction. Any failure aborts the remaining batches and marks the
// document failed, keeping the batches already committed. A second run for a
// document that is still being ingested returns ErrInProgress.
func (p *Pipeline) Ingest(ctx context.Context, documentID, text string) (*Result, error) {
	start := time.Now()
	logger := p.logger.With("document_id", documentID)

	if !p.acquire(documentID) {
		return nil, fmt.Errorf("%w: %s", ErrInProgress, documentID)
	}
	defer p.release(documentID)

	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == storage.StatusReady {
		return nil, ErrAlreadyReady
	}

	chunks := p.chunker.ChunkText(text)
	result := &Result{DocumentID: documentID, Chunks: len(chunks)}
	if len(chunks) == 0 {
		return result, p.fail(ctx, logger, documentID, ErrNoText)
	}

	hash := contentHash(text)
	resume := doc.ContentHash == hash &&
		doc.ChunkCount == len(chunks) &&
		doc.CommittedChunks > 0 && doc.CommittedChunks <= len(chunks)
	from := 0
	if resume {
		from = doc.CommittedChunks
		result.Resumed = true
	} else if doc.CommittedChunks > 0 || doc.ContentHash != "" {
		if err := p.vectors.DeleteVectors(ctx, documentID); err != nil {
			return result, p.fail(ctx, logger, documentID, fmt.Errorf("delete stale vectors: %w", err))
		}
	}

	if err := p.store.BeginIngestion(ctx, documentID, hash, len(chunks), !resume); err != nil {
		return result, p.fail(ctx, logger, documentID, fmt.Errorf("begin ingestion: %w", err))
	}

	// A batch's rows commit before its vectors are indexed, so the committed
	// prefix of a failed run may be missing from the index.
	if resume {
		if _, err := p.indexStored(ctx, documentID, from); err != nil {
			return result, p.fail(ctx, logger, documentID, fmt.Errorf("reindex committed chunks: %w", err))
		}
	}

	totalBatches := (len(chunks) - from + p.opts.BatchSize - 1) / p.opts.BatchSize
	logger.Info("Starting ingestion",
		"chunks", len(chunks),
		"from_index", from,
		"total_batches", totalBatches,
		"resumed", resume,
	)

	for i := from; i < len(chunks); i += p.opts.BatchSize {
		end := min(i+p.opts.BatchSize, len(chunks))

		if err := p.processBatch(ctx, documentID, chunks[i:end]); err != nil {
			return result, p.fail(ctx, logger, documentID, fmt.Errorf("batch %d-%d: %w", i, end, err))
		}

		result.Batches++
		result.Embedded += end - i
		logger.Debug("Committed batch",
			"batch", result.Batches,
			"total_batches", totalBatches,
			"chunks", end-i,
		)
	}

	if err := p.store.UpdateDocumentStatus(ctx, documentID, storage.StatusReady, ""); err != nil {
		return result, p.fail(ctx, logger, documentID, fmt.Errorf("mark ready: %w", err))
	}

	result.Duration = time.Since(start)
	logger.Info("Ingestion complete",
		"chunks", result.Chunks,
		"embedded", result.Embedded,
		"batches", result.Batches,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) acquire(documentID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[documentID]; busy {
		return false
	}
	p.active[documentID] = struct{}{}
	return true
}

func (p *Pipeline) release(documentID string) {
	p.mu.Lock()
	delete(p.active, documentID)
	p.mu.Unlock()
}

// processBatch embeds one batch, commits its rows and indexes the vectors.
func (p *Pipeline) processBatch(ctx context.Context, documentID string, batch []chunking.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	embeddings, err := p.embedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}

	rows := make([]*storage.Chunk, len(batch))
	for i, c := range batch {
		rows[i] = &storage.Chunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			ChunkIndex: c.Index,
			Content:    c.Content,
			Embedding:  embeddings[i],
		}
	}

	if err := p.store.InsertChunks(ctx, documentID, rows); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	if err := p.vectors.IndexChunks(ctx, rows); err != nil {
		return fmt.Errorf("index vectors: %w", err)
	}
	return nil
}

// embedBatch splits texts into up to Concurrency contiguous groups and embeds
// them in parallel, preserving input order.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	groupSize := (len(texts) + p.opts.Concurrency - 1) / p.opts.Concurrency

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += groupSize {
		end := min(start+groupSize, len(texts))
		g.Go(func() error {
			vectors, err := p.embedder.EmbedTexts(gctx, texts[start:end])
			if err != nil {
				return err
			}
			if len(vectors) != end-start {
				return fmt.Errorf("got %d embeddings for %d texts", len(vectors), end-start)
			}
			copy(out[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// fail marks the document failed with a short diagnostic and returns cause.
// The status write survives cancellation of ctx.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, documentID string, cause error) error {
	logger.Error("Ingestion failed", "error", cause)

	diagnostic := cause.Error()
	if r := []rune(diagnostic); len(r) > maxDiagnosticLen {
		diagnostic = string(r[:maxDiagnosticLen])
	}
	if err := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), documentID, storage.StatusFailed, diagnostic); err != nil {
		logger.Error("Failed to mark document failed", "error", err)
	}
	return cause
}

// Reindex rebuilds the vector index for documentID from the stored chunk rows.
func (p *Pipeline) Reindex(ctx context.Context, documentID string) (int, error) {
	if err := p.vectors.DeleteVectors(ctx, documentID); err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	n, err := p.indexStored(ctx, documentID, -1)
	if err != nil {
		return n, err
	}
	p.logger.Info("Reindexed document", "document_id", documentID, "chunks", n)
	return n, nil
}

// indexStored indexes the stored chunks of documentID with an index below
// upto, or all of them when upto is negative. Indexing is an upsert.
func (p *Pipeline) indexStored(ctx context.Context, documentID string, upto int) (int, error) {
	rows, err := p.store.ListChunks(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if upto >= 0 {
		kept := rows[:0]
		for _, r := range rows {
			if r.ChunkIndex < upto {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	for i := 0; i < len(rows); i += p.opts.BatchSize {
		end := min(i+p.opts.BatchSize, len(rows))
		if err := p.vectors.IndexChunks(ctx, rows[i:end]); err != nil {
			return i, fmt.Errorf("index vectors %d-%d: %w", i, end, err)
		}
	}
	return len(rows), nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
