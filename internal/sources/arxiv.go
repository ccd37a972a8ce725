// Package sources downloads papers from remote sources for import.
package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// Source names stored on imported documents.
const (
	SourceArXiv  = "arxiv"
	SourceGitHub = "github"
)

const (
	defaultArXivBaseURL = "https://arxiv.org"
	maxPaperBytes       = 50 << 20
)

var (
	// ErrInvalidArXivID is returned for identifiers that are not arXiv ids.
	ErrInvalidArXivID = errors.New("invalid arXiv id")

	// ErrPaperNotFound is returned when the remote source has no such paper.
	ErrPaperNotFound = errors.New("paper not found")

	// ErrNotPDF is returned when a download does not look like a PDF.
	ErrNotPDF = errors.New("downloaded file is not a PDF")
)

// New style (2301.01234v2) and old style (hep-th/9901001) identifiers.
var arxivIDPattern = regexp.MustCompile(`^(\d{4}\.\d{4,5}|[a-z][a-z\-]*(\.[A-Z]{2})?/\d{7})(v\d+)?$`)

// NormalizeArXivID accepts a bare id, an "arXiv:" prefixed id or an
// abs/pdf URL and returns the bare id.
func NormalizeArXivID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	for _, prefix := range []string{
		"https://arxiv.org/abs/", "https://arxiv.org/pdf/",
		"http://arxiv.org/abs/", "http://arxiv.org/pdf/",
		"arXiv:", "arxiv:",
	} {
		id = strings.TrimPrefix(id, prefix)
	}
	id = strings.TrimSuffix(id, ".pdf")

	if !arxivIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArXivID, raw)
	}
	return id, nil
}

// ArXiv downloads paper PDFs from arxiv.org.
type ArXiv struct {
	client  *resty.Client
	baseURL string
}

// NewArXiv returns an arXiv downloader over hc. A nil hc uses a 60s-timeout default.
func NewArXiv(hc *http.Client) *ArXiv {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	client := resty.NewWithClient(hc).
		SetHeader("User-Agent", "paperchat/1.0")
	return &ArXiv{client: client, baseURL: defaultArXivBaseURL}
}

// WithBaseURL points the downloader at another host, for mirrors and tests.
func (a *ArXiv) WithBaseURL(baseURL string) *ArXiv {
	a.baseURL = strings.TrimRight(baseURL, "/")
	return a
}

// PDFURL returns the download URL of id.
func (a *ArXiv) PDFURL(id string) string {
	return fmt.Sprintf("%s/pdf/%s.pdf", a.baseURL, id)
}

// Download fetches the PDF of id, retrying 429 and 5xx responses with
// exponential backoff.
func (a *ArXiv) Download(ctx context.Context, id string) ([]byte, error) {
	id, err := NormalizeArXivID(id)
	if err != nil {
		return nil, err
	}
	url := a.PDFURL(id)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	var data []byte
	operation := func() error {
		// The body is streamed so the size cap applies before buffering.
		resp, err := a.client.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get(url)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		raw := resp.RawBody()
		defer raw.Close()

		switch status := resp.StatusCode(); {
		case status == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: arXiv:%s", ErrPaperNotFound, id))
		case status == http.StatusTooManyRequests || status >= 500:
			return fmt.Errorf("arxiv returned %s", resp.Status())
		case status != http.StatusOK:
			return backoff.Permanent(fmt.Errorf("arxiv returned %s", resp.Status()))
		}

		body, err := io.ReadAll(io.LimitReader(raw, maxPaperBytes+1))
		if err != nil {
			return err
		}
		if len(body) > maxPaperBytes {
			return backoff.Permanent(fmt.Errorf("arXiv:%s exceeds %d bytes", id, maxPaperBytes))
		}
		if !bytes.HasPrefix(body, []byte("%PDF-")) {
			return backoff.Permanent(fmt.Errorf("%w: arXiv:%s", ErrNotPDF, id))
		}
		data = body
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("download arXiv:%s: %w", id, err)
	}
	return data, nil
}
