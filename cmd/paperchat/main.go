// Package main provides the paperchat CLI for ingesting papers and asking questions from a terminal.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/literaq/paperchat/internal/app"
	"github.com/literaq/paperchat/internal/config"
	"github.com/literaq/paperchat/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "paperchat",
	Short: "Chat with research papers",
	Long: `CLI for the paperchat index.

Papers are stored in the same database the server uses, so documents ingested
here can be queried over the HTTP API and MCP.

Environment variables:
  OPENAI_API_KEY   OpenAI API key (required for ingest, import, ask, reindex)
  DATABASE_PATH    SQLite database file (default: paperchat.db)
  VECTOR_BACKEND   sqlite or qdrant (default: sqlite)
  GITHUB_TOKEN     GitHub token for higher rate limits (optional)`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("PAPERCHAT_CONFIG"), "path to a YAML config file")
	rootCmd.AddCommand(ingestCmd, importCmd, askCmd, chunkCmd, watchCmd, reindexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Options{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat, Output: os.Stderr})
	return cfg, nil
}

// withApp builds the services, runs fn and releases them. fn's context is
// cancelled on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
