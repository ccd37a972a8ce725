// Package main provides the paperchat HTTP API and MCP server entry point.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/literaq/paperchat/internal/api"
	"github.com/literaq/paperchat/internal/app"
	"github.com/literaq/paperchat/internal/config"
	"github.com/literaq/paperchat/internal/extract"
	"github.com/literaq/paperchat/internal/logging"
	mcpserver "github.com/literaq/paperchat/internal/mcp"
)

func main() {
	cfg, err := config.Load(os.Getenv("PAPERCHAT_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Init(logging.Options{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := extract.CheckAvailable(); err != nil {
		logger.Warn("PDF uploads will fail", "error", err, "install", extract.InstallInstructions())
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	mcp := mcpserver.NewServer(&mcpserver.Config{
		Store:     a.Store,
		Chat:      a.Chat,
		Summaries: a.Summaries,
	})

	// Stdio mode serves MCP to a local client; the HTTP API still runs for uploads.
	stdio := os.Getenv("MCP_STDIO") == "true"

	checks := map[string]api.HealthChecker{"database": a.Store}
	if a.Qdrant != nil {
		checks["qdrant"] = a.Qdrant
	}

	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Deps{
		Store:         a.Store,
		Vectors:       a.Vectors,
		Pipeline:      a.Pipeline,
		Importer:      a.Importer,
		Chat:          a.Chat,
		Summaries:     a.Summaries,
		Checks:        checks,
		MCP:           mcp.HTTPHandler(false),
		ChatTimeout:   cfg.Retrieval.Timeout,
		IngestTimeout: cfg.Ingest.Timeout,
		Logger:        logging.Module("api"),
	})

	errCh := make(chan error, 2)
	go func() {
		addr := "0.0.0.0:" + cfg.Server.Port
		logger.Info("Starting paperchat server", "addr", addr, "mcp", "/mcp", "health", "/health")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if stdio {
		go func() {
			logger.Info("Serving MCP over stdio")
			errCh <- mcp.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return server.Shutdown(shutdownCtx)
}
