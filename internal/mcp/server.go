package mcp

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/storage"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Store     *storage.SQLiteStore
	Chat      *chat.Service
	Summaries *chat.Summaries
	Version   string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: "paperchat", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_paper",
		Description: "Ask a question about one research paper. The answer is grounded only in the paper's most relevant passages, which are returned as sources.",
	}, makeAskHandler(cfg.Chat))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_paper",
		Description: "Semantic search within one research paper. Returns the full text of the most similar passages.",
	}, makeSearchHandler(cfg.Chat))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_papers",
		Description: "List all uploaded and imported papers with their ingestion status.",
	}, makeListHandler(cfg.Store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_paper_status",
		Description: "Get the ingestion status of a paper: processing, ready or failed, with chunk progress.",
	}, makeStatusHandler(cfg.Store))

	if cfg.Summaries != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "summarize_paper",
			Description: "Get a TL;DR, key findings and methodology summary of a ready paper.",
		}, makeSummaryHandler(cfg.Summaries))
	}

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// HTTPHandler serves the tools over Streamable HTTP. Stateless disables
// session management.
func (s *Server) HTTPHandler(stateless bool) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, &mcp.StreamableHTTPOptions{Stateless: stateless})
}
