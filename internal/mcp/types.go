// Package mcp exposes paper chat operations as Model Context Protocol tools.
package mcp

import "time"

// AskPaperInput defines the input parameters for the ask_paper tool.
type AskPaperInput struct {
	PaperID       string `json:"paper_id" jsonschema:"ID of a ready paper"`
	Question      string `json:"question" jsonschema:"The question to answer from the paper"`
	ChatSessionID string `json:"chat_session_id,omitempty" jsonschema:"Continue an existing conversation; omit to start a new one"`
}

// AskPaperOutput contains the grounded answer.
type AskPaperOutput struct {
	ChatSessionID string          `json:"chat_session_id"`
	Answer        string          `json:"answer"`
	Sources       []SourceExcerpt `json:"sources"`
}

// SourceExcerpt is an evidence chunk preview.
type SourceExcerpt struct {
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Preview    string  `json:"preview"`
}

// SearchPaperInput defines the input parameters for the search_paper tool.
type SearchPaperInput struct {
	PaperID    string `json:"paper_id" jsonschema:"ID of a ready paper"`
	Query      string `json:"query" jsonschema:"The semantic search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of passages to return (default 6, max 20)"`
}

// SearchPaperOutput contains the matching passages, most similar first.
type SearchPaperOutput struct {
	Results []Passage `json:"results"`
	// Message provides informational context (e.g., "No matching passages found").
	Message string `json:"message,omitempty"`
}

// Passage is a full chunk returned by search_paper.
type Passage struct {
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	Content    string  `json:"content"`
}

// ListPapersInput takes no parameters.
type ListPapersInput struct{}

// ListPapersOutput lists every paper with its status.
type ListPapersOutput struct {
	Papers []PaperInfo `json:"papers"`
	Count  int         `json:"count"`
}

// PaperInfo summarizes a paper.
type PaperInfo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// PaperStatusInput defines the input parameters for the get_paper_status tool.
type PaperStatusInput struct {
	PaperID string `json:"paper_id" jsonschema:"ID of the paper"`
}

// PaperStatusOutput reports ingestion progress of a paper.
type PaperStatusOutput struct {
	Found           bool      `json:"found"`
	PaperID         string    `json:"paper_id"`
	Title           string    `json:"title,omitempty"`
	Status          string    `json:"status,omitempty"`
	TotalChunks     int       `json:"total_chunks"`
	CommittedChunks int       `json:"committed_chunks"`
	Error           string    `json:"error,omitempty"`
	LatestSessionID string    `json:"latest_session_id,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// SummarizePaperInput defines the input parameters for the summarize_paper tool.
type SummarizePaperInput struct {
	PaperID string `json:"paper_id" jsonschema:"ID of a ready paper"`
}

// SummarizePaperOutput is the cached or freshly generated summary.
type SummarizePaperOutput struct {
	TLDR        string   `json:"tldr"`
	KeyFindings []string `json:"key_findings"`
	Methodology string   `json:"methodology"`
}
