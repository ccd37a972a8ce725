// Package api serves the paper upload, import and chat endpoints over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/ingest"
	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/storage"
)

// MaxUploadBytes is the largest accepted upload.
const MaxUploadBytes = 10 << 20

// Deps holds the services behind the HTTP API.
type Deps struct {
	Store     *storage.SQLiteStore
	Vectors   storage.VectorIndex
	Pipeline  *ingest.Pipeline
	Importer  *ingest.Importer
	Chat      *chat.Service
	Summaries *chat.Summaries

	// Checks are reported by /health, keyed by component name.
	Checks map[string]HealthChecker

	// MCP is mounted at /mcp when set.
	MCP http.Handler

	ChatTimeout   time.Duration
	IngestTimeout time.Duration
	Logger        *slog.Logger
}

// Server is the HTTP server of the paper chat API.
type Server struct {
	deps   Deps
	router *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the router and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		router: gin.New(),
		logger: logging.OrDefault(deps.Logger),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.router.MaxMultipartMemory = MaxUploadBytes

	papers := s.router.Group("/api/papers")
	{
		papers.POST("", s.uploadPaper)
		papers.GET("", s.listPapers)
		papers.POST("/import", s.importPaper)
		papers.GET("/:id", s.getPaper)
		papers.DELETE("/:id", s.deletePaper)
		papers.POST("/:id/ingest", s.ingestText)
		papers.POST("/:id/chat", s.ask)
		papers.GET("/:id/messages", s.listMessages)
		papers.GET("/:id/search", s.search)
		papers.GET("/:id/summary", s.summary)
	}

	s.router.GET("/", s.landing)
	s.router.GET("/health", s.health)
	if deps.MCP != nil {
		s.router.Any("/mcp", gin.WrapH(deps.MCP))
	}
	return s
}

// Handler returns the router, for tests and custom servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// withChatTimeout bounds a chat request by the configured budget.
func (s *Server) withChatTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.deps.ChatTimeout)
}

// withIngestTimeout bounds a text ingestion request by the configured budget.
func (s *Server) withIngestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.deps.IngestTimeout)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
