package extract

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"
)

// MarkdownResult is the plain text of a Markdown paper.
type MarkdownResult struct {
	Title    string   // first heading, if any
	Sections []string // H1/H2 titles in document order
	Text     string   // one block per paragraph, heading, list item or code block
}

// Markdown extracts plain text from Markdown sources.
type Markdown struct {
	parser goldmark.Markdown
}

// NewMarkdown creates a new Markdown extractor configured with goldmark parser.
func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
	)
	return &Markdown{parser: md}
}

// Extract strips Markdown syntax and separates blocks with blank lines so the
// chunker sees them as paragraphs.
func (m *Markdown) Extract(source []byte) (*MarkdownResult, error) {
	doc := m.parser.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(2),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("inspect TOC: %w", err)
	}

	result := &MarkdownResult{}
	collectSections(tree.Items, &result.Sections)
	if len(result.Sections) > 0 {
		result.Title = result.Sections[0]
	}

	var blocks []string
	err = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading, ast.KindParagraph, ast.KindTextBlock:
			if s := strings.TrimSpace(inlineText(n, source)); s != "" {
				blocks = append(blocks, s)
			}
			return ast.WalkSkipChildren, nil
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			if s := strings.TrimRight(linesText(n, source), "\n"); strings.TrimSpace(s) != "" {
				blocks = append(blocks, s)
			}
			return ast.WalkSkipChildren, nil
		case ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}

	result.Text = strings.Join(blocks, "\n\n")
	return result, nil
}

func collectSections(items toc.Items, out *[]string) {
	for _, item := range items {
		if len(item.Title) > 0 {
			*out = append(*out, string(item.Title))
		}
		collectSections(item.Items, out)
	}
}

// inlineText concatenates the text leaves of a block, turning line breaks into spaces.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// linesText returns the raw source lines of a code block.
func linesText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}
