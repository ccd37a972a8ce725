// Package extract turns uploaded paper files into plain text for chunking.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength caps titles derived from document text.
const MaxTitleLength = 200

var (
	// ErrEmptyText is returned when a file yields no readable text.
	ErrEmptyText = errors.New("could not extract text")

	// ErrUnsupportedType is returned for files that are neither PDF, Markdown nor plain text.
	ErrUnsupportedType = errors.New("unsupported file type")
)

// Kind identifies a supported input format.
type Kind string

// Supported input formats.
const (
	KindPDF      Kind = "pdf"
	KindMarkdown Kind = "markdown"
	KindText     Kind = "text"
)

// Result is the extracted text of a file and its best-guess title.
type Result struct {
	Kind  Kind
	Title string
	Text  string
}

// Extractor dispatches to the PDF or Markdown extractor by file type.
type Extractor struct {
	pdf      *PDF
	markdown *Markdown
}

// New returns an Extractor using pdftotext from PATH.
func New() *Extractor {
	return &Extractor{pdf: NewPDF(), markdown: NewMarkdown()}
}

// NewWithRunner returns an Extractor whose PDF extraction runs commands through runner.
func NewWithRunner(runner CommandRunner) *Extractor {
	return &Extractor{pdf: NewPDFWithRunner(runner), markdown: NewMarkdown()}
}

// DetectKind classifies a file by extension, falling back to content sniffing.
func DetectKind(filename string, data []byte) (Kind, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return KindPDF, nil
	case ".md", ".markdown":
		return KindMarkdown, nil
	case ".txt":
		return KindText, nil
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return KindPDF, nil
	}
	if len(data) > 0 && utf8.Valid(data) {
		return KindText, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
}

// Extract returns the text of data. Empty extraction is an error.
func (e *Extractor) Extract(ctx context.Context, filename string, data []byte) (*Result, error) {
	kind, err := DetectKind(filename, data)
	if err != nil {
		return nil, err
	}

	result := &Result{Kind: kind}
	switch kind {
	case KindPDF:
		result.Text, err = e.pdf.Extract(ctx, data)
	case KindMarkdown:
		var md *MarkdownResult
		md, err = e.markdown.Extract(data)
		if md != nil {
			result.Text, result.Title = md.Text, md.Title
		}
	default:
		result.Text = string(data)
	}
	if err != nil {
		return nil, err
	}

	result.Text = strings.TrimSpace(result.Text)
	if result.Text == "" {
		return nil, ErrEmptyText
	}
	if result.Title == "" {
		result.Title = ExtractTitle(result.Text, filename)
	}
	return result, nil
}

// ExtractTitle returns the first non-empty line of text, capped at
// MaxTitleLength characters. Without text it derives a title from filename.
func ExtractTitle(text, filename string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > MaxTitleLength {
			line = strings.TrimSpace(string(r[:MaxTitleLength]))
		}
		return line
	}

	base := filepath.Base(filename)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	if name == "" || name == "." {
		return "Untitled paper"
	}
	return name
}
