package extract

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
	input  []byte
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	// The input path is the second to last argument; capture it before it is removed.
	if len(args) >= 2 {
		m.input, _ = os.ReadFile(args[len(args)-2])
	}
	return m.output, m.err
}

func TestExtract_PDF(t *testing.T) {
	runner := &mockRunner{output: []byte("Attention Is All You Need  \r\nAbstract text.\fSecond page.\n")}
	ex := NewWithRunner(runner)

	pdf := []byte("%PDF-1.7 fake")
	res, err := ex.Extract(context.Background(), "paper.pdf", pdf)
	require.NoError(t, err)

	assert.Equal(t, "pdftotext", runner.name)
	assert.Equal(t, "-", runner.args[len(runner.args)-1])
	assert.Equal(t, pdf, runner.input, "PDF bytes written to the temp file")
	assert.Equal(t, KindPDF, res.Kind)
	assert.Equal(t, "Attention Is All You Need", res.Title)
	assert.Equal(t, "Attention Is All You Need\nAbstract text.\n\nSecond page.", res.Text)
}

func TestExtract_PDFSniffedWithoutExtension(t *testing.T) {
	runner := &mockRunner{output: []byte("Body")}
	res, err := NewWithRunner(runner).Extract(context.Background(), "upload", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, KindPDF, res.Kind)
}

func TestExtract_PDFEmptyOutput(t *testing.T) {
	runner := &mockRunner{output: []byte(" \n\f \n")}
	_, err := NewWithRunner(runner).Extract(context.Background(), "scan.pdf", []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestExtract_PDFToolFailure(t *testing.T) {
	runner := &mockRunner{err: errors.New("exit status 1")}
	_, err := NewWithRunner(runner).Extract(context.Background(), "broken.pdf", []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext")
}

func TestExtract_Markdown(t *testing.T) {
	src := strings.Join([]string{
		"# Sparse Attention",
		"",
		"We study **sparse** attention with `top-k` routing.",
		"It scales well.",
		"",
		"## Method",
		"",
		"- first item",
		"- second [link](https://example.com)",
		"",
		"```go",
		"x := 1",
		"```",
		"",
		"<div>ignored</div>",
	}, "\n")

	res, err := New().Extract(context.Background(), "notes.md", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, KindMarkdown, res.Kind)
	assert.Equal(t, "Sparse Attention", res.Title)
	assert.Equal(t, strings.Join([]string{
		"Sparse Attention",
		"We study sparse attention with top-k routing. It scales well.",
		"Method",
		"first item",
		"second link",
		"x := 1",
	}, "\n\n"), res.Text)
}

func TestMarkdown_Sections(t *testing.T) {
	src := "# Title\n\n## Intro\n\ntext\n\n### Deep\n\n## Results\n\nmore\n"
	res, err := NewMarkdown().Extract([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"Title", "Intro", "Results"}, res.Sections)
}

func TestExtract_MarkdownWithoutHeadingUsesFirstLine(t *testing.T) {
	res, err := New().Extract(context.Background(), "notes.md", []byte("Plain opening line\n\nBody."))
	require.NoError(t, err)
	assert.Equal(t, "Plain opening line", res.Title)
}

func TestExtract_PlainText(t *testing.T) {
	res, err := New().Extract(context.Background(), "paper.txt", []byte("\n\n  A Title  \nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, KindText, res.Kind)
	assert.Equal(t, "A Title", res.Title)
	assert.Equal(t, "A Title  \nbody", res.Text)
}

func TestExtract_Empty(t *testing.T) {
	_, err := New().Extract(context.Background(), "empty.txt", []byte("   \n"))
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestDetectKind_Unsupported(t *testing.T) {
	_, err := DetectKind("image", []byte{0xff, 0xd8, 0xff, 0xe0})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestExtractTitle(t *testing.T) {
	long := strings.Repeat("é", MaxTitleLength+20)

	tests := []struct {
		name     string
		text     string
		filename string
		want     string
	}{
		{"first non-empty line", "\n\n  Deep Learning  \nbody", "x.pdf", "Deep Learning"},
		{"capped", long, "x.pdf", strings.Repeat("é", MaxTitleLength)},
		{"filename fallback", "  \n ", "graph_neural-nets.pdf", "graph neural nets"},
		{"untitled", "", "", "Untitled paper"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractTitle(tt.text, tt.filename))
		})
	}
}
