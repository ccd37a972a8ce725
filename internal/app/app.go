// Package app wires configuration into the services shared by the server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/chunking"
	"github.com/literaq/paperchat/internal/config"
	"github.com/literaq/paperchat/internal/embedding"
	"github.com/literaq/paperchat/internal/extract"
	"github.com/literaq/paperchat/internal/ingest"
	"github.com/literaq/paperchat/internal/llm"
	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/sources"
	"github.com/literaq/paperchat/internal/storage"
)

// App holds the constructed services. Close releases the store and the Qdrant client.
type App struct {
	Config    *config.Config
	Store     *storage.SQLiteStore
	Vectors   storage.VectorIndex
	Qdrant    *storage.QdrantIndex // nil with the sqlite backend
	Embedder  *embedding.Embedder
	Chunker   *chunking.Chunker
	Pipeline  *ingest.Pipeline
	Importer  *ingest.Importer
	Chat      *chat.Service
	Summaries *chat.Summaries
	GitHub    *sources.GitHub
}

// New builds every service from cfg. The vector index and OpenAI client are
// validated here so misconfiguration fails at startup.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Store: store}

	if err := a.openVectorIndex(ctx); err != nil {
		a.Close()
		return nil, err
	}

	client, err := embedding.NewClient(cfg.OpenAI)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create OpenAI client: %w", err)
	}

	a.Embedder = embedding.NewEmbedder(client, embedding.Options{
		Model:             cfg.OpenAI.EmbeddingModel,
		Dimensions:        cfg.OpenAI.EmbeddingDimensions,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	})
	completer := llm.NewClient(client.Client(), llm.Options{
		Model:       cfg.OpenAI.ChatModel,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
	})

	a.Chunker = chunking.NewChunker(cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens)
	a.Pipeline = ingest.NewPipeline(store, a.Vectors, a.Chunker, a.Embedder, ingest.Options{
		BatchSize:   cfg.Ingest.BatchSize,
		Concurrency: cfg.Ingest.Concurrency,
	}, logging.Module("ingest"))

	a.GitHub, err = sources.NewGitHub(cfg.GitHubToken)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create GitHub client: %w", err)
	}
	a.Importer = ingest.NewImporter(
		a.Pipeline,
		store,
		extract.New(),
		sources.NewArXiv(&http.Client{Timeout: 2 * time.Minute}),
		a.GitHub,
		ingest.ImporterOptions{Timeout: cfg.Ingest.Timeout},
		logging.Module("import"),
	)

	a.Chat = chat.NewService(store, a.Vectors, a.Embedder, completer, chat.Options{
		TopK:         cfg.Retrieval.TopK,
		HistoryLimit: cfg.Retrieval.HistoryLimit,
	}, logging.Module("chat"))
	a.Summaries = chat.NewSummaries(store,
		llm.NewSummarizer(completer, llm.DefaultSummaryMaxTokens, logging.Module("summary")),
		logging.Module("summary"))

	return a, nil
}

func (a *App) openVectorIndex(ctx context.Context) error {
	cfg := a.Config
	if cfg.Storage.VectorBackend != config.BackendQdrant {
		a.Vectors = storage.NewSQLiteVectorIndex(a.Store)
		return nil
	}

	q, err := storage.NewQdrantIndex(storage.QdrantOptions{
		Host:       cfg.Storage.Qdrant.Host,
		Port:       cfg.Storage.Qdrant.Port,
		APIKey:     cfg.Storage.Qdrant.APIKey,
		UseTLS:     cfg.Storage.Qdrant.UseTLS,
		Collection: cfg.Storage.Qdrant.Collection,
		Dimension:  cfg.OpenAI.EmbeddingDimensions,
	})
	if err != nil {
		return fmt.Errorf("connect to Qdrant: %w", err)
	}
	if err := q.EnsureCollection(ctx); err != nil {
		q.Close()
		return fmt.Errorf("ensure collection: %w", err)
	}
	a.Qdrant, a.Vectors = q, q
	slog.Info("Using Qdrant vector index", "host", cfg.Storage.Qdrant.Host, "collection", cfg.Storage.Qdrant.Collection)
	return nil
}

// Close waits for background imports and releases connections.
func (a *App) Close() {
	if a.Importer != nil {
		a.Importer.Wait()
	}
	if a.Qdrant != nil {
		a.Qdrant.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}
