// Package config loads paperchat configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig configures the embedding and chat-completion endpoints.
type OpenAIConfig struct {
	APIKey              string  `yaml:"-"`
	BaseURL             string  `yaml:"base_url"`
	EmbeddingModel      string  `yaml:"embedding_model"`
	EmbeddingDimensions int     `yaml:"embedding_dimensions"`
	ChatModel           string  `yaml:"chat_model"`
	Temperature         float64 `yaml:"temperature"`
	MaxTokens           int     `yaml:"max_tokens"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
}

// ChunkingConfig configures the paragraph/sentence chunker.
type ChunkingConfig struct {
	MaxTokens     int `yaml:"max_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// IngestConfig configures batch embedding during ingestion.
type IngestConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetrievalConfig configures similarity search and prompt assembly.
type RetrievalConfig struct {
	TopK         int           `yaml:"top_k"`
	HistoryLimit int           `yaml:"history_limit"`
	Timeout      time.Duration `yaml:"timeout"`
}

// StorageConfig selects the relational database and vector backend.
type StorageConfig struct {
	DatabasePath  string       `yaml:"database_path"`
	VectorBackend string       `yaml:"vector_backend"` // sqlite or qdrant
	Qdrant        QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for Qdrant.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"-"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

// ServerConfig configures the HTTP listener and logging.
type ServerConfig struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Config is the root configuration.
type Config struct {
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Chunking    ChunkingConfig  `yaml:"chunking"`
	Ingest      IngestConfig    `yaml:"ingest"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Storage     StorageConfig   `yaml:"storage"`
	Server      ServerConfig    `yaml:"server"`
	GitHubToken string          `yaml:"-"`
}

// Vector backends.
const (
	BackendSQLite = "sqlite"
	BackendQdrant = "qdrant"
)

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		OpenAI: OpenAIConfig{
			BaseURL:             "https://api.openai.com/v1",
			EmbeddingModel:      "text-embedding-3-small",
			EmbeddingDimensions: 1536,
			ChatModel:           "gpt-4-turbo-preview",
			Temperature:         0.7,
			MaxTokens:           1000,
			RequestsPerSecond:   5,
		},
		Chunking: ChunkingConfig{MaxTokens: 1000, OverlapTokens: 150},
		Ingest:   IngestConfig{BatchSize: 20, Concurrency: 1, Timeout: 300 * time.Second},
		Retrieval: RetrievalConfig{
			TopK:         6,
			HistoryLimit: 10,
			Timeout:      60 * time.Second,
		},
		Storage: StorageConfig{
			DatabasePath:  "paperchat.db",
			VectorBackend: BackendSQLite,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "paper_chunks",
			},
		},
		Server: ServerConfig{Port: "8080", LogLevel: "info", LogFormat: "text"},
	}
}

// Load reads path (if non-empty and present), then applies environment overrides.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the pipeline misbehave.
func (c *Config) Validate() error {
	if c.Chunking.MaxTokens <= 0 {
		return fmt.Errorf("chunking.max_tokens must be > 0")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens must be >= 0 and < max_tokens")
	}
	if c.Storage.VectorBackend != BackendSQLite && c.Storage.VectorBackend != BackendQdrant {
		return fmt.Errorf("storage.vector_backend must be %q or %q", BackendSQLite, BackendQdrant)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.OpenAI.APIKey = getEnv("OPENAI_API_KEY", cfg.OpenAI.APIKey)
	cfg.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAI.BaseURL)
	cfg.OpenAI.EmbeddingModel = getEnv("EMBEDDING_MODEL", cfg.OpenAI.EmbeddingModel)
	cfg.OpenAI.EmbeddingDimensions = getEnvInt("EMBEDDING_DIMENSIONS", cfg.OpenAI.EmbeddingDimensions)
	cfg.OpenAI.ChatModel = getEnv("CHAT_MODEL", cfg.OpenAI.ChatModel)
	cfg.OpenAI.Temperature = getEnvFloat("CHAT_TEMPERATURE", cfg.OpenAI.Temperature)
	cfg.OpenAI.MaxTokens = getEnvInt("CHAT_MAX_TOKENS", cfg.OpenAI.MaxTokens)
	cfg.OpenAI.RequestsPerSecond = getEnvFloat("EMBED_REQUESTS_PER_SECOND", cfg.OpenAI.RequestsPerSecond)

	cfg.Chunking.MaxTokens = getEnvInt("CHUNK_MAX_TOKENS", cfg.Chunking.MaxTokens)
	cfg.Chunking.OverlapTokens = getEnvInt("CHUNK_OVERLAP_TOKENS", cfg.Chunking.OverlapTokens)

	cfg.Ingest.BatchSize = getEnvInt("INGEST_BATCH_SIZE", cfg.Ingest.BatchSize)
	cfg.Ingest.Concurrency = getEnvInt("INGEST_CONCURRENCY", cfg.Ingest.Concurrency)
	cfg.Ingest.Timeout = getEnvDuration("INGEST_TIMEOUT", cfg.Ingest.Timeout)

	cfg.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", cfg.Retrieval.TopK)
	cfg.Retrieval.HistoryLimit = getEnvInt("HISTORY_LIMIT", cfg.Retrieval.HistoryLimit)
	cfg.Retrieval.Timeout = getEnvDuration("CHAT_TIMEOUT", cfg.Retrieval.Timeout)

	cfg.Storage.DatabasePath = getEnv("DATABASE_PATH", cfg.Storage.DatabasePath)
	cfg.Storage.VectorBackend = getEnv("VECTOR_BACKEND", cfg.Storage.VectorBackend)
	cfg.Storage.Qdrant.Host = getEnv("QDRANT_HOST", cfg.Storage.Qdrant.Host)
	cfg.Storage.Qdrant.Port = getEnvInt("QDRANT_PORT", cfg.Storage.Qdrant.Port)
	cfg.Storage.Qdrant.APIKey = getEnv("QDRANT_API_KEY", cfg.Storage.Qdrant.APIKey)
	cfg.Storage.Qdrant.Collection = getEnv("QDRANT_COLLECTION", cfg.Storage.Qdrant.Collection)
	cfg.Storage.Qdrant.UseTLS = getEnv("QDRANT_USE_TLS", strconv.FormatBool(cfg.Storage.Qdrant.UseTLS)) == "true"

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", cfg.Server.LogLevel)
	cfg.Server.LogFormat = getEnv("LOG_FORMAT", cfg.Server.LogFormat)

	cfg.GitHubToken = getEnv("GITHUB_TOKEN", cfg.GitHubToken)
}

// applyDefaults fills zero values left behind by a partial YAML file.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.OpenAI.EmbeddingModel == "" {
		cfg.OpenAI.EmbeddingModel = d.OpenAI.EmbeddingModel
	}
	if cfg.OpenAI.EmbeddingDimensions <= 0 {
		cfg.OpenAI.EmbeddingDimensions = d.OpenAI.EmbeddingDimensions
	}
	if cfg.OpenAI.ChatModel == "" {
		cfg.OpenAI.ChatModel = d.OpenAI.ChatModel
	}
	if cfg.OpenAI.MaxTokens <= 0 {
		cfg.OpenAI.MaxTokens = d.OpenAI.MaxTokens
	}
	if cfg.Ingest.BatchSize <= 0 {
		cfg.Ingest.BatchSize = d.Ingest.BatchSize
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = d.Ingest.Concurrency
	}
	if cfg.Ingest.Timeout <= 0 {
		cfg.Ingest.Timeout = d.Ingest.Timeout
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = d.Retrieval.TopK
	}
	if cfg.Retrieval.HistoryLimit < 0 {
		cfg.Retrieval.HistoryLimit = d.Retrieval.HistoryLimit
	}
	if cfg.Retrieval.Timeout <= 0 {
		cfg.Retrieval.Timeout = d.Retrieval.Timeout
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = d.Storage.DatabasePath
	}
	if cfg.Storage.VectorBackend == "" {
		cfg.Storage.VectorBackend = d.Storage.VectorBackend
	}
	if cfg.Storage.Qdrant.Collection == "" {
		cfg.Storage.Qdrant.Collection = d.Storage.Qdrant.Collection
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = d.Server.Port
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
