package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/literaq/paperchat/internal/storage/migrations"
)

// SQLiteStore is the relational source of truth for documents, chunks,
// chat sessions, messages and summaries.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at path and applies migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *SQLiteStore) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_initial.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ==================== Documents ====================

const documentColumns = `id, title, filename, source, source_ref, status, content_hash,
	chunk_count, committed_chunks, error, created_at, updated_at`

// CreateDocument inserts doc. Missing ID, status and timestamps are filled in.
func (s *SQLiteStore) CreateDocument(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}
	if doc.Source == "" {
		doc.Source = "upload"
	}
	now := s.now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Filename, doc.Source, doc.SourceRef, string(doc.Status),
		doc.ContentHash, doc.ChunkCount, doc.CommittedChunks, doc.Error,
		now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetDocument returns the document with id or ErrDocumentNotFound.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// FindDocumentBySource returns the document imported from source/ref or ErrDocumentNotFound.
func (s *SQLiteStore) FindDocumentBySource(ctx context.Context, source, ref string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE source = ? AND source_ref = ?
		ORDER BY created_at DESC LIMIT 1`, source, ref)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find document by source: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status and diagnostic of a document.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, diagnostic string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), diagnostic, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireAffected(res, ErrDocumentNotFound)
}

// BeginIngestion records the text hash and chunk count of a new ingestion run
// and marks the document processing. When reset is true, previously stored
// chunks are deleted and progress starts from zero.
func (s *SQLiteStore) BeginIngestion(ctx context.Context, id, contentHash string, chunkCount int, reset bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if reset {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
	}

	query := `UPDATE documents SET status = ?, error = '', content_hash = ?, chunk_count = ?, updated_at = ?`
	if reset {
		query += `, committed_chunks = 0`
	}
	query += ` WHERE id = ?`

	res, err := tx.ExecContext(ctx, query,
		string(StatusProcessing), contentHash, chunkCount, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := requireAffected(res, ErrDocumentNotFound); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteDocument removes a document; chunks, sessions, messages and summaries cascade.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireAffected(res, ErrDocumentNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc                  Document
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&doc.ID, &doc.Title, &doc.Filename, &doc.Source, &doc.SourceRef, &status,
		&doc.ContentHash, &doc.ChunkCount, &doc.CommittedChunks, &doc.Error, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	doc.Status = DocumentStatus(status)
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &doc, nil
}

// ==================== Chunks ====================

// InsertChunks stores one batch of chunks and advances the document's
// committed_chunks in the same transaction. Re-inserting an existing
// (document, index) pair replaces it, so a resumed run is idempotent.
func (s *SQLiteStore) InsertChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id, chunk_index) DO UPDATE SET
			id = excluded.id, content = excluded.content, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	next := 0
	for _, chunk := range chunks {
		if chunk.DocumentID != documentID {
			return fmt.Errorf("chunk %d belongs to document %q, not %q", chunk.ChunkIndex, chunk.DocumentID, documentID)
		}
		if chunk.ID == "" {
			chunk.ID = uuid.New().String()
		}
		_, err := stmt.ExecContext(ctx, chunk.ID, documentID, chunk.ChunkIndex, chunk.Content,
			pgvector.NewVector(chunk.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
		next = max(next, chunk.ChunkIndex+1)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE documents SET committed_chunks = MAX(committed_chunks, ?), updated_at = ? WHERE id = ?`,
		next, s.now().UTC().UnixMilli(), documentID)
	if err != nil {
		return fmt.Errorf("advance committed chunks: %w", err)
	}
	if err := requireAffected(res, ErrDocumentNotFound); err != nil {
		return err
	}

	return tx.Commit()
}

// ListChunks returns a document's chunks, with embeddings, in index order.
func (s *SQLiteStore) ListChunks(ctx context.Context, documentID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, embedding
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var (
			c   Chunk
			vec pgvector.Vector
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Embedding = vec.Slice()
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// GetChunks returns the chunks with the given ids (without embeddings), in
// the order of ids. Unknown ids are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content
		FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		byID[c.ID] = &c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunks := make([]*Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// CountChunks returns the number of stored chunks for a document.
func (s *SQLiteStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// ==================== Sessions & messages ====================

// CreateSession starts a chat session for a document.
func (s *SQLiteStore) CreateSession(ctx context.Context, documentID string) (*ChatSession, error) {
	session := &ChatSession{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		CreatedAt:  s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, document_id, created_at) VALUES (?, ?, ?)`,
		session.ID, session.DocumentID, session.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("insert chat session: %w", err)
	}
	return session, nil
}

// GetSession returns the session with id or ErrSessionNotFound.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*ChatSession, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, created_at FROM chat_sessions WHERE id = ?`, id))
}

// LatestSession returns the most recently created session of a document or ErrSessionNotFound.
func (s *SQLiteStore) LatestSession(ctx context.Context, documentID string) (*ChatSession, error) {
	return s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, created_at FROM chat_sessions
		WHERE document_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, documentID))
}

func (s *SQLiteStore) scanSession(row *sql.Row) (*ChatSession, error) {
	var (
		session   ChatSession
		createdAt int64
	)
	err := row.Scan(&session.ID, &session.DocumentID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chat session: %w", err)
	}
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &session, nil
}

// AppendMessage stores msg. Missing ID and CreatedAt are filled in.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	sourceIDs := msg.SourceChunkIDs
	if sourceIDs == nil {
		sourceIDs = []string{}
	}
	sourceJSON, err := json.Marshal(sourceIDs)
	if err != nil {
		return fmt.Errorf("marshal source chunk ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, source_chunk_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, string(sourceJSON), msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns all messages of a session, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, source_chunk_ids, created_at
		FROM messages WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages of a session, oldest first.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, source_chunk_ids, created_at FROM (
			SELECT * FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, seq DESC LIMIT ?
		) ORDER BY created_at, seq`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var (
			msg        Message
			role       string
			sourceJSON string
			createdAt  int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &sourceJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)
		msg.CreatedAt = time.UnixMilli(createdAt).UTC()
		if err := json.Unmarshal([]byte(sourceJSON), &msg.SourceChunkIDs); err != nil {
			return nil, fmt.Errorf("decode source chunk ids: %w", err)
		}
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// ==================== Summaries ====================

// GetSummary returns the cached summary of a document or ErrSummaryNotFound.
func (s *SQLiteStore) GetSummary(ctx context.Context, documentID string) (*PaperSummary, error) {
	var (
		summary      PaperSummary
		findingsJSON string
		createdAt    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, tldr, key_findings, methodology, created_at
		FROM paper_summaries WHERE document_id = ?`, documentID).
		Scan(&summary.DocumentID, &summary.TLDR, &findingsJSON, &summary.Methodology, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	if err := json.Unmarshal([]byte(findingsJSON), &summary.KeyFindings); err != nil {
		return nil, fmt.Errorf("decode key findings: %w", err)
	}
	summary.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &summary, nil
}

// SaveSummary stores or replaces the summary of a document.
func (s *SQLiteStore) SaveSummary(ctx context.Context, summary *PaperSummary) error {
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = s.now().UTC()
	}
	findings := summary.KeyFindings
	if findings == nil {
		findings = []string{}
	}
	findingsJSON, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal key findings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO paper_summaries (document_id, tldr, key_findings, methodology, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			tldr = excluded.tldr, key_findings = excluded.key_findings,
			methodology = excluded.methodology, created_at = excluded.created_at`,
		summary.DocumentID, summary.TLDR, string(findingsJSON), summary.Methodology, summary.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
