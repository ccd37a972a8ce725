package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/extract"
	"github.com/literaq/paperchat/internal/ingest"
	"github.com/literaq/paperchat/internal/sources"
	"github.com/literaq/paperchat/internal/storage"
)

const maxDetailsLen = 200

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// writeError maps service errors to status codes. Unclassified errors become
// a 500 with fallback as the message and a short diagnostic.
func (s *Server) writeError(c *gin.Context, err error, fallback string) {
	status, body := http.StatusInternalServerError, ErrorResponse{Error: fallback, Details: details(err)}

	switch {
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, sources.ErrInvalidArXivID),
		errors.Is(err, extract.ErrUnsupportedType),
		errors.Is(err, ingest.ErrNoText),
		errors.Is(err, ingest.ErrSourceUnavailable):
		status, body = http.StatusBadRequest, ErrorResponse{Error: err.Error()}
	case errors.Is(err, extract.ErrEmptyText):
		status, body = http.StatusBadRequest, ErrorResponse{Error: "could not extract text"}
	case errors.Is(err, chat.ErrNotReady):
		status, body = http.StatusBadRequest, ErrorResponse{Error: "paper is not ready", Details: details(err)}
	case errors.Is(err, storage.ErrDocumentNotFound):
		status, body = http.StatusNotFound, ErrorResponse{Error: "paper not found"}
	case errors.Is(err, sources.ErrPaperNotFound):
		status, body = http.StatusNotFound, ErrorResponse{Error: err.Error()}
	case errors.Is(err, storage.ErrDuplicateSource),
		errors.Is(err, ingest.ErrAlreadyReady),
		errors.Is(err, ingest.ErrInProgress):
		status, body = http.StatusConflict, ErrorResponse{Error: err.Error()}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.JSON(status, body)
}

func details(err error) string {
	msg := err.Error()
	if r := []rune(msg); len(r) > maxDetailsLen {
		msg = string(r[:maxDetailsLen])
	}
	return msg
}
