// Package chat answers questions about a single paper from its retrieved chunks.
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

// Defaults for Options.
const (
	DefaultTopK         = 6
	DefaultHistoryLimit = 10
)

var (
	// ErrValidation marks malformed requests. No external call is made.
	ErrValidation = errors.New("invalid request")

	// ErrSessionMismatch is returned when the session belongs to another document.
	ErrSessionMismatch = fmt.Errorf("%w: chat session does not belong to this paper", ErrValidation)

	// ErrNotReady is returned when the document is still processing or failed.
	ErrNotReady = errors.New("paper is not ready")

	// ErrUpstream wraps embedding, generation and store failures after the question was saved.
	ErrUpstream = errors.New("failed to answer")
)

// Embedder embeds a single query with the model used for ingestion.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Completer generates a chat completion from role-tagged messages.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Options tunes retrieval.
type Options struct {
	TopK         int
	HistoryLimit int // prior messages sent as history; 0 disables history
}

// Request is one question about a document.
type Request struct {
	DocumentID string
	SessionID  string // optional; a new session is created when empty
	Question   string
}

// Evidence is a retrieved chunk shown alongside an answer.
type Evidence struct {
	ChunkID    string  `json:"id"`
	ChunkIndex int     `json:"chunkIndex"`
	Preview    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Answer is the result of Ask.
type Answer struct {
	SessionID string     `json:"chatSessionId"`
	Answer    string     `json:"answer"`
	Evidence  []Evidence `json:"sourceChunks"`
}

// Passage is a search hit with its full text.
type Passage struct {
	ChunkID    string  `json:"chunkId"`
	ChunkIndex int     `json:"chunkIndex"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Service answers questions grounded in a document's chunks.
type Service struct {
	store     *storage.SQLiteStore
	vectors   storage.VectorIndex
	embedder  Embedder
	completer Completer
	opts      Options
	logger    *slog.Logger
}

// NewService creates a chat service.
func NewService(
	store *storage.SQLiteStore,
	vectors storage.VectorIndex,
	embedder Embedder,
	completer Completer,
	opts Options,
	logger *slog.Logger,
) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Service{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		completer: completer,
		opts:      opts,
		logger:    logging.OrDefault(logger),
	}
}

// Ask answers req.Question from the top-K chunks of req.DocumentID. The
// question is stored before any external call, so it survives upstream failures.
func (s *Service) Ask(ctx context.Context, req Request) (*Answer, error) {
	question := strings.TrimSpace(req.Question)
	if req.DocumentID == "" {
		return nil, fmt.Errorf("%w: paper id is required", ErrValidation)
	}
	if question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrValidation)
	}

	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != storage.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, doc.Status)
	}

	session, err := s.resolveSession(ctx, doc.ID, req.SessionID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("document_id", doc.ID, "session_id", session.ID)

	userMsg := &storage.Message{SessionID: session.ID, Role: storage.RoleUser, Content: question}
	if err := s.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("save question: %w", err)
	}

	answer, err := s.answer(ctx, logger, doc.ID, session.ID, userMsg.ID, question)
	if err != nil {
		logger.Error("Failed to answer question", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	return answer, nil
}

func (s *Service) resolveSession(ctx context.Context, documentID, sessionID string) (*storage.ChatSession, error) {
	if sessionID == "" {
		session, err := s.store.CreateSession(ctx, documentID)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return session, nil
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return nil, err
	}
	if session.DocumentID != documentID {
		return nil, ErrSessionMismatch
	}
	return session, nil
}

// answer runs retrieval and generation after the question has been stored.
func (s *Service) answer(ctx context.Context, logger *slog.Logger, documentID, sessionID, questionID, question string) (*Answer, error) {
	hits, chunks, err := s.retrieve(ctx, documentID, question, s.opts.TopK)
	if err != nil {
		return nil, err
	}
	logger.Debug("Retrieved chunks", "hits", len(hits))

	if len(chunks) == 0 {
		msg := &storage.Message{SessionID: sessionID, Role: storage.RoleAssistant, Content: NoEvidenceAnswer}
		if err := s.store.AppendMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("save answer: %w", err)
		}
		return &Answer{SessionID: sessionID, Answer: NoEvidenceAnswer, Evidence: []Evidence{}}, nil
	}

	history, err := s.history(ctx, sessionID, questionID)
	if err != nil {
		return nil, err
	}

	text, err := s.completer.Complete(ctx, buildMessages(buildContext(chunks), history, question))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	evidence := make([]Evidence, len(chunks))
	sourceIDs := make([]string, len(chunks))
	for i, c := range chunks {
		sourceIDs[i] = c.ID
		evidence[i] = Evidence{
			ChunkID:    c.ID,
			ChunkIndex: c.ChunkIndex,
			Preview:    preview(c.Content),
			Similarity: hits[i].Similarity,
		}
	}

	msg := &storage.Message{SessionID: sessionID, Role: storage.RoleAssistant, Content: text, SourceChunkIDs: sourceIDs}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save answer: %w", err)
	}

	logger.Info("Answered question", "evidence", len(evidence))
	return &Answer{SessionID: sessionID, Answer: text, Evidence: evidence}, nil
}

// retrieve embeds query and loads the top-k chunks of documentID. hits and
// chunks are aligned, ordered by similarity descending.
func (s *Service) retrieve(ctx context.Context, documentID, query string, k int) ([]storage.ScoredChunk, []*storage.Chunk, error) {
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("embed question: %w", err)
	}

	scored, err := s.vectors.TopKSimilar(ctx, documentID, vec, k)
	if err != nil {
		return nil, nil, fmt.Errorf("similarity search: %w", err)
	}
	if len(scored) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, len(scored))
	for i, h := range scored {
		ids[i] = h.ChunkID
	}
	rows, err := s.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("load chunks: %w", err)
	}
	byID := make(map[string]*storage.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	hits := make([]storage.ScoredChunk, 0, len(scored))
	chunks := make([]*storage.Chunk, 0, len(scored))
	for _, h := range scored {
		c, ok := byID[h.ChunkID]
		// A vector whose row is gone or belongs elsewhere is stale index state.
		if !ok || c.DocumentID != documentID {
			continue
		}
		hits = append(hits, h)
		chunks = append(chunks, c)
	}
	return hits, chunks, nil
}

// history returns up to HistoryLimit messages preceding questionID, oldest first.
func (s *Service) history(ctx context.Context, sessionID, questionID string) ([]*storage.Message, error) {
	if s.opts.HistoryLimit == 0 {
		return nil, nil
	}
	recent, err := s.store.RecentMessages(ctx, sessionID, s.opts.HistoryLimit+1)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := make([]*storage.Message, 0, len(recent))
	for _, m := range recent {
		if m.ID != questionID {
			history = append(history, m)
		}
	}
	if len(history) > s.opts.HistoryLimit {
		history = history[len(history)-s.opts.HistoryLimit:]
	}
	return history, nil
}

// Search returns the k chunks of a ready document most similar to query, with full text.
func (s *Service) Search(ctx context.Context, documentID, query string, k int) ([]Passage, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrValidation)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != storage.StatusReady {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, doc.Status)
	}
	if k <= 0 {
		k = s.opts.TopK
	}

	hits, chunks, err := s.retrieve(ctx, documentID, query, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	passages := make([]Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = Passage{
			ChunkID:    c.ID,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			Similarity: hits[i].Similarity,
		}
	}
	return passages, nil
}

// Messages returns a session's messages, oldest first. The session must
// belong to documentID.
func (s *Service) Messages(ctx context.Context, documentID, sessionID string) ([]*storage.Message, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: chat session id is required", ErrValidation)
	}
	if _, err := s.resolveSession(ctx, documentID, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, sessionID)
}
