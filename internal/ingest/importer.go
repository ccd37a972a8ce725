package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/literaq/paperchat/internal/extract"
	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/sources"
	"github.com/literaq/paperchat/internal/storage"
)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Extract(ctx context.Context, filename string, data []byte) (*extract.Result, error)
}

// ArXivSource downloads arXiv PDFs.
type ArXivSource interface {
	Download(ctx context.Context, id string) ([]byte, error)
}

// GitHubSource fetches single files from GitHub.
type GitHubSource interface {
	Fetch(ctx context.Context, owner, repo, filePath string) (*sources.GitHubFile, error)
}

// ErrSourceUnavailable is returned when an import source is not configured.
var ErrSourceUnavailable = errors.New("import source not configured")

// ImporterOptions configures background ingestion of imports.
type ImporterOptions struct {
	Timeout time.Duration // per-document ingestion budget, 0 means none
}

// Importer creates documents from uploads and remote sources and hands their
// text to the Pipeline. Uploads are ingested synchronously; imports run in the
// background and are tracked so shutdown can wait for them.
type Importer struct {
	pipeline  *Pipeline
	store     *storage.SQLiteStore
	extractor Extractor
	arxiv     ArXivSource
	github    GitHubSource
	opts      ImporterOptions
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewImporter creates an Importer. arxiv and github may be nil to disable those sources.
func NewImporter(
	pipeline *Pipeline,
	store *storage.SQLiteStore,
	extractor Extractor,
	arxiv ArXivSource,
	github GitHubSource,
	opts ImporterOptions,
	logger *slog.Logger,
) *Importer {
	return &Importer{
		pipeline:  pipeline,
		store:     store,
		extractor: extractor,
		arxiv:     arxiv,
		github:    github,
		opts:      opts,
		logger:    logging.OrDefault(logger),
	}
}

// Upload extracts data, creates the document and ingests it before returning.
// Extraction failures happen before any document is created.
func (im *Importer) Upload(ctx context.Context, filename string, data []byte) (*storage.Document, *Result, error) {
	extracted, err := im.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := im.withTimeout(ctx)
	defer cancel()

	doc := &storage.Document{
		Title:    extracted.Title,
		Filename: filename,
		Source:   "upload",
	}
	return im.pipeline.Submit(ctx, doc, extracted.Text)
}

// ImportArXiv downloads and extracts arXiv paper id, creates its document and
// ingests it in the background. A paper already imported under the same id is
// rejected with storage.ErrDuplicateSource.
func (im *Importer) ImportArXiv(ctx context.Context, id, title string) (*storage.Document, error) {
	if im.arxiv == nil {
		return nil, fmt.Errorf("%w: arxiv", ErrSourceUnavailable)
	}
	id, err := sources.NormalizeArXivID(id)
	if err != nil {
		return nil, err
	}
	if err := im.checkDuplicate(ctx, sources.SourceArXiv, id); err != nil {
		return nil, err
	}

	im.logger.Info("Downloading arXiv paper", "arxiv_id", id)
	data, err := im.arxiv.Download(ctx, id)
	if err != nil {
		return nil, err
	}

	filename := id + ".pdf"
	extracted, err := im.extractor.Extract(ctx, filename, data)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = "arXiv:" + id
	}

	doc := &storage.Document{
		Title:     title,
		Filename:  filename,
		Source:    sources.SourceArXiv,
		SourceRef: id,
	}
	return im.startBackground(ctx, doc, extracted.Text)
}

// ImportGitHub fetches a PDF or Markdown file from GitHub and ingests it in the background.
func (im *Importer) ImportGitHub(ctx context.Context, owner, repo, filePath string) (*storage.Document, error) {
	if im.github == nil {
		return nil, fmt.Errorf("%w: github", ErrSourceUnavailable)
	}
	ref := fmt.Sprintf("%s/%s/%s", owner, repo, filePath)
	if err := im.checkDuplicate(ctx, sources.SourceGitHub, ref); err != nil {
		return nil, err
	}

	file, err := im.github.Fetch(ctx, owner, repo, filePath)
	if err != nil {
		return nil, err
	}

	filename := path.Base(file.Path)
	extracted, err := im.extractor.Extract(ctx, filename, file.Content)
	if err != nil {
		return nil, err
	}

	doc := &storage.Document{
		Title:     extracted.Title,
		Filename:  filename,
		Source:    sources.SourceGitHub,
		SourceRef: file.Ref(),
	}
	return im.startBackground(ctx, doc, extracted.Text)
}

// Wait blocks until all background ingestions have finished.
func (im *Importer) Wait() {
	im.wg.Wait()
}

func (im *Importer) checkDuplicate(ctx context.Context, source, ref string) error {
	existing, err := im.store.FindDocumentBySource(ctx, source, ref)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s %s is document %s", storage.ErrDuplicateSource, source, ref, existing.ID)
	case errors.Is(err, storage.ErrDocumentNotFound):
		return nil
	default:
		return err
	}
}

// startBackground creates doc and ingests text after the request returns.
// The ingestion context is detached from ctx so it outlives the caller.
func (im *Importer) startBackground(ctx context.Context, doc *storage.Document, text string) (*storage.Document, error) {
	doc.Status = storage.StatusProcessing
	if err := im.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	bg, cancel := im.withTimeout(context.WithoutCancel(ctx))
	im.wg.Add(1)
	go func() {
		defer im.wg.Done()
		defer cancel()

		result, err := im.pipeline.Ingest(bg, doc.ID, text)
		if err != nil {
			im.logger.Error("Background ingestion failed", "document_id", doc.ID, "source", doc.Source, "error", err)
			return
		}
		im.logger.Info("Background ingestion complete",
			"document_id", doc.ID,
			"chunks", result.Chunks,
			"duration", result.Duration,
		)
	}()

	return doc, nil
}

func (im *Importer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if im.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, im.opts.Timeout)
}
