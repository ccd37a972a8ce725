package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>paperchat</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; display: flex; justify-content: center; padding: 3rem 0; }
  .card { max-width: 640px; width: 90%; background: #1e293b; border-radius: 12px; padding: 2.5rem; }
  h1 { margin: 0 0 0.5rem; color: #f8fafc; }
  .subtitle { color: #94a3b8; margin-bottom: 1.5rem; }
  .section-title { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.1em; color: #64748b; margin: 1.5rem 0 0.5rem; }
  pre { background: #0f172a; border: 1px solid #334155; border-radius: 8px; padding: 1rem; overflow-x: auto; font-size: 0.85rem; }
  .endpoint { font-family: "SF Mono", Menlo, monospace; font-size: 0.9rem; color: #a5b4fc; }
</style>
</head>
<body>
<div class="card">
  <h1>paperchat</h1>
  <p class="subtitle">Ask questions about research papers. Answers are grounded in the paper's own passages.</p>

  <div class="section-title">Upload and ask</div>
  <pre><code>curl -F file=@paper.pdf localhost:8080/api/papers
curl -d '{"question":"What is the main result?"}' localhost:8080/api/papers/&lt;id&gt;/chat</code></pre>

  <div class="section-title">Endpoints</div>
  <p><span class="endpoint">/api/papers</span> papers, import, chat, messages, summary</p>
  <p><span class="endpoint">/mcp</span> MCP Streamable HTTP</p>
  <p><span class="endpoint">/health</span> health check</p>
</div>
</body>
</html>`

// landing serves the index page at /.
func (s *Server) landing(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(landingHTML))
}
