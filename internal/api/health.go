package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// HealthChecker is implemented by the SQLite store and the Qdrant index.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// health reports 503 when any component is unreachable.
func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "healthy",
		Components: make(map[string]string, len(s.deps.Checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	for name, checker := range s.deps.Checks {
		if err := checker.Health(ctx); err != nil {
			s.logger.Warn("Health check failed", "component", name, "error", err)
			resp.Components[name] = "disconnected"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Components[name] = "connected"
	}
	c.JSON(status, resp)
}
