package storage

import "errors"

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrSessionNotFound   = errors.New("chat session not found")
	ErrSummaryNotFound   = errors.New("summary not found")
	ErrDuplicateSource   = errors.New("document with this source already exists")
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
