package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/literaq/paperchat/internal/llm"
	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/storage"
)

// Summarizer generates a paper summary from its full text.
type Summarizer interface {
	Summarize(ctx context.Context, title, text string) (*llm.Summary, error)
}

// Summaries serves cached paper summaries, generating them on first request.
type Summaries struct {
	store      *storage.SQLiteStore
	summarizer Summarizer
	logger     *slog.Logger
}

// NewSummaries creates a summary service.
func NewSummaries(store *storage.SQLiteStore, summarizer Summarizer, logger *slog.Logger) *Summaries {
	return &Summaries{store: store, summarizer: summarizer, logger: logging.OrDefault(logger)}
}

// Get returns the summary of a ready document. The first call generates it
// from the chunks in index order and caches it.
func (s *Summaries) Get(ctx context.Context, documentID string) (*storage.PaperSummary, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != storage.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, doc.Status)
	}

	cached, err := s.store.GetSummary(ctx, documentID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, storage.ErrSummaryNotFound) {
		return nil, err
	}

	chunks, err := s.store.ListChunks(ctx, documentID)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	s.logger.Info("Generating paper summary", "document_id", documentID, "chunks", len(chunks))
	generated, err := s.summarizer.Summarize(ctx, doc.Title, strings.Join(texts, "\n\n"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	summary := &storage.PaperSummary{
		DocumentID:  documentID,
		TLDR:        generated.TLDR,
		KeyFindings: generated.KeyFindings,
		Methodology: generated.Methodology,
	}
	if err := s.store.SaveSummary(ctx, summary); err != nil {
		return nil, err
	}
	return summary, nil
}
