package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/sources"
	"github.com/literaq/paperchat/internal/storage"
)

// PaperResponse is the JSON form of a document.
type PaperResponse struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	Source        string    `json:"source"`
	SourceRef     string    `json:"sourceRef,omitempty"`
	Status        string    `json:"status"`
	ChunksCount   int       `json:"chunksCount"`
	Error         string    `json:"error,omitempty"`
	ChatSessionID string    `json:"chatSessionId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func toPaperResponse(doc *storage.Document) PaperResponse {
	return PaperResponse{
		ID:          doc.ID,
		Title:       doc.Title,
		Filename:    doc.Filename,
		Source:      doc.Source,
		SourceRef:   doc.SourceRef,
		Status:      string(doc.Status),
		ChunksCount: doc.CommittedChunks,
		Error:       doc.Error,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

// UploadResponse is returned after a synchronous upload.
type UploadResponse struct {
	PaperID     string `json:"paperId"`
	Title       string `json:"title"`
	ChunksCount int    `json:"chunksCount"`
	Status      string `json:"status"`
}

// uploadPaper handles POST /api/papers (multipart field "file").
func (s *Server) uploadPaper(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes+1<<20)

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "file is required")
		return
	}
	if header.Size > MaxUploadBytes {
		badRequest(c, "file exceeds 10MB")
		return
	}

	f, err := header.Open()
	if err != nil {
		s.writeError(c, err, "failed to process document")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
	if err != nil {
		s.writeError(c, err, "failed to process document")
		return
	}

	doc, result, err := s.deps.Importer.Upload(c.Request.Context(), header.Filename, data)
	if err != nil {
		if doc != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "failed to process document",
				"details": details(err),
				"paperId": doc.ID,
			})
			s.logger.Error("Upload ingestion failed", "document_id", doc.ID, "error", err)
			return
		}
		s.writeError(c, err, "failed to process document")
		return
	}

	c.JSON(http.StatusCreated, UploadResponse{
		PaperID:     doc.ID,
		Title:       doc.Title,
		ChunksCount: result.Chunks,
		Status:      string(storage.StatusReady),
	})
}

// IngestRequest carries extracted text for an existing document.
type IngestRequest struct {
	Text string `json:"text" binding:"required"`
}

// ingestText handles POST /api/papers/:id/ingest. It resumes failed documents
// and rejects documents another run is still ingesting.
func (s *Server) ingestText(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "text is required")
		return
	}

	ctx, cancel := s.withIngestTimeout(c.Request.Context())
	defer cancel()

	if _, err := s.deps.Pipeline.Ingest(ctx, c.Param("id"), req.Text); err != nil {
		s.writeError(c, err, "failed to process document")
		return
	}
	c.Status(http.StatusNoContent)
}

// ImportRequest selects a remote paper. Source defaults to arxiv.
type ImportRequest struct {
	Source  string `json:"source"`
	ArXivID string `json:"arxivId"`
	Title   string `json:"title"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Path    string `json:"path"`
}

// importPaper handles POST /api/papers/import. Ingestion continues in the background.
func (s *Server) importPaper(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	var (
		doc *storage.Document
		err error
	)
	switch req.Source {
	case "", sources.SourceArXiv:
		if req.ArXivID == "" {
			badRequest(c, "arXiv ID is required")
			return
		}
		doc, err = s.deps.Importer.ImportArXiv(c.Request.Context(), req.ArXivID, req.Title)
	case sources.SourceGitHub:
		if req.Owner == "" || req.Repo == "" || req.Path == "" {
			badRequest(c, "owner, repo and path are required")
			return
		}
		doc, err = s.deps.Importer.ImportGitHub(c.Request.Context(), req.Owner, req.Repo, req.Path)
	default:
		badRequest(c, "unknown source "+strconv.Quote(req.Source))
		return
	}
	if err != nil {
		s.writeError(c, err, "failed to import paper")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"paper":   toPaperResponse(doc),
		"message": "Paper import started. Processing in background...",
	})
}

// listPapers handles GET /api/papers.
func (s *Server) listPapers(c *gin.Context) {
	docs, err := s.deps.Store.ListDocuments(c.Request.Context())
	if err != nil {
		s.writeError(c, err, "failed to list papers")
		return
	}
	papers := make([]PaperResponse, len(docs))
	for i, doc := range docs {
		papers[i] = toPaperResponse(doc)
	}
	c.JSON(http.StatusOK, gin.H{"papers": papers, "count": len(papers)})
}

// getPaper handles GET /api/papers/:id, including the latest chat session.
func (s *Server) getPaper(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.deps.Store.GetDocument(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err, "failed to get paper")
		return
	}

	resp := toPaperResponse(doc)
	session, err := s.deps.Store.LatestSession(ctx, doc.ID)
	switch {
	case err == nil:
		resp.ChatSessionID = session.ID
	case !errors.Is(err, storage.ErrSessionNotFound):
		s.writeError(c, err, "failed to get paper")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// deletePaper handles DELETE /api/papers/:id. Vectors go first so a failed
// delete leaves the rows available for Reindex.
func (s *Server) deletePaper(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.deps.Store.GetDocument(ctx, id); err != nil {
		s.writeError(c, err, "failed to delete paper")
		return
	}
	if err := s.deps.Vectors.DeleteVectors(ctx, id); err != nil {
		s.writeError(c, err, "failed to delete paper")
		return
	}
	if err := s.deps.Store.DeleteDocument(ctx, id); err != nil {
		s.writeError(c, err, "failed to delete paper")
		return
	}
	c.Status(http.StatusNoContent)
}

// AskRequest is a question about a paper.
type AskRequest struct {
	ChatSessionID string `json:"chatSessionId"`
	Question      string `json:"question"`
}

// ask handles POST /api/papers/:id/chat.
func (s *Server) ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	ctx, cancel := s.withChatTimeout(c.Request.Context())
	defer cancel()

	answer, err := s.deps.Chat.Ask(ctx, chat.Request{
		DocumentID: c.Param("id"),
		SessionID:  req.ChatSessionID,
		Question:   req.Question,
	})
	if err != nil {
		s.writeError(c, err, "failed to answer")
		return
	}
	c.JSON(http.StatusOK, answer)
}

// MessageResponse is the JSON form of a chat message.
type MessageResponse struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	SourceChunkIDs []string  `json:"sourceChunkIds"`
	CreatedAt      time.Time `json:"createdAt"`
}

// listMessages handles GET /api/papers/:id/messages?chatSessionId=.
func (s *Server) listMessages(c *gin.Context) {
	msgs, err := s.deps.Chat.Messages(c.Request.Context(), c.Param("id"), c.Query("chatSessionId"))
	if err != nil {
		s.writeError(c, err, "failed to list messages")
		return
	}

	out := make([]MessageResponse, len(msgs))
	for i, m := range msgs {
		ids := m.SourceChunkIDs
		if ids == nil {
			ids = []string{}
		}
		out[i] = MessageResponse{
			ID:             m.ID,
			Role:           string(m.Role),
			Content:        m.Content,
			SourceChunkIDs: ids,
			CreatedAt:      m.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// search handles GET /api/papers/:id/search?q=&k=.
func (s *Server) search(c *gin.Context) {
	k, _ := strconv.Atoi(c.Query("k"))

	ctx, cancel := s.withChatTimeout(c.Request.Context())
	defer cancel()

	passages, err := s.deps.Chat.Search(ctx, c.Param("id"), c.Query("q"), k)
	if err != nil {
		s.writeError(c, err, "failed to search paper")
		return
	}
	if passages == nil {
		passages = []chat.Passage{}
	}
	c.JSON(http.StatusOK, gin.H{"results": passages, "count": len(passages)})
}

// SummaryResponse is the JSON form of a paper summary.
type SummaryResponse struct {
	TLDR        string    `json:"tldr"`
	KeyFindings []string  `json:"keyFindings"`
	Methodology string    `json:"methodology"`
	CreatedAt   time.Time `json:"createdAt"`
}

// summary handles GET /api/papers/:id/summary.
func (s *Server) summary(c *gin.Context) {
	ctx, cancel := s.withChatTimeout(c.Request.Context())
	defer cancel()

	sum, err := s.deps.Summaries.Get(ctx, c.Param("id"))
	if err != nil {
		s.writeError(c, err, "failed to generate summary")
		return
	}
	findings := sum.KeyFindings
	if findings == nil {
		findings = []string{}
	}
	c.JSON(http.StatusOK, SummaryResponse{
		TLDR:        sum.TLDR,
		KeyFindings: findings,
		Methodology: sum.Methodology,
		CreatedAt:   sum.CreatedAt,
	})
}
