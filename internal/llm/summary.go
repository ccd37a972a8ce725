package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/literaq/paperchat/internal/logging"
)

// DefaultSummaryMaxTokens is the maximum paper length sent for summarization (estimated tokens).
const DefaultSummaryMaxTokens = 16000

const summarySystemPrompt = `You are an AI research assistant. You read research papers and produce structured summaries.
Be specific and factual. Use only information present in the paper.`

// JSONCompleter produces a completion in JSON-object mode.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error)
}

// Summary is the generated overview of a paper.
type Summary struct {
	TLDR        string   `json:"tldr"`
	KeyFindings []string `json:"key_findings"`
	Methodology string   `json:"methodology"`
}

// Summarizer produces paper summaries.
type Summarizer struct {
	completer JSONCompleter
	maxTokens int
	logger    *slog.Logger
}

// NewSummarizer creates a summarizer. Non-positive maxTokens selects DefaultSummaryMaxTokens.
func NewSummarizer(completer JSONCompleter, maxTokens int, logger *slog.Logger) *Summarizer {
	if maxTokens <= 0 {
		maxTokens = DefaultSummaryMaxTokens
	}
	return &Summarizer{
		completer: completer,
		maxTokens: maxTokens,
		logger:    logging.OrDefault(logger),
	}
}

// Summarize analyzes the paper text and produces a TL;DR, key findings and a methodology summary.
func (s *Summarizer) Summarize(ctx context.Context, title, text string) (*Summary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("paper has no text to summarize")
	}

	prompt := fmt.Sprintf(`Analyze this research paper and provide:
1. A TL;DR of 2-3 sentences capturing the core contribution and findings
2. The 3-5 most important findings
3. A short summary of the methodology: key approaches, techniques and experimental setup

Paper title: %s

Paper content:
%s

Respond in JSON format:
{"tldr": "...", "key_findings": ["Finding 1", "Finding 2"], "methodology": "..."}`, title, s.truncateContent(text))

	raw, err := s.completer.CompleteJSON(ctx, []Message{
		{Role: RoleSystem, Content: summarySystemPrompt},
		{Role: RoleUser, Content: prompt},
	}, 0.3, 1000)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if summary.TLDR == "" {
		summary.TLDR = "Unable to generate summary."
	}
	if summary.KeyFindings == nil {
		summary.KeyFindings = []string{}
	}
	return &summary, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (s *Summarizer) truncateContent(content string) string {
	maxChars := s.maxTokens * 4

	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	s.logger.Warn("truncating paper for summary",
		"chars", len(runes),
		"max_chars", maxChars,
		"max_tokens", s.maxTokens)

	return string(runes[:maxChars])
}
