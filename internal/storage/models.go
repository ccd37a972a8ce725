package storage

import "time"

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

// Document statuses. Ready and Failed are terminal for a single ingestion run.
const (
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Document is an uploaded or imported paper. Its full text is never stored;
// only its chunks are.
type Document struct {
	ID              string
	Title           string
	Filename        string
	Source          string // upload, text, arxiv, github
	SourceRef       string // arXiv id, GitHub path, ...
	Status          DocumentStatus
	ContentHash     string // sha256 of the extracted text of the last ingestion run
	ChunkCount      int    // chunks produced by the chunker for ContentHash
	CommittedChunks int    // chunk indices [0, CommittedChunks) are durably stored
	Error           string // short diagnostic for failed documents
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Chunk is a stored piece of a document with its embedding vector.
type Chunk struct {
	ID         string    // UUID
	DocumentID string    // Owning Document.ID
	ChunkIndex int       // Position in document (0, 1, 2...)
	Content    string    // Chunk text content
	Embedding  []float32 // Embedding of Content
}

// ScoredChunk is a vector search hit.
type ScoredChunk struct {
	ChunkID    string
	ChunkIndex int
	Similarity float64 // cosine similarity, higher is closer
}

// ChatSession groups the messages of one conversation about a document.
type ChatSession struct {
	ID         string
	DocumentID string
	CreatedAt  time.Time
}

// Role is the author of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only conversation turn.
type Message struct {
	ID             string
	SessionID      string
	Role           Role
	Content        string
	SourceChunkIDs []string // evidence used for assistant answers
	CreatedAt      time.Time
}

// PaperSummary is the cached LLM summary of a document.
type PaperSummary struct {
	DocumentID  string
	TLDR        string
	KeyFindings []string
	Methodology string
	CreatedAt   time.Time
}
