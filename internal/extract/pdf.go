package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ErrPDFToolNotFound is returned when pdftotext is not installed.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")

const pdfTool = "pdftotext"

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts text from PDF bytes with poppler's pdftotext.
type PDF struct {
	runner CommandRunner
}

// NewPDF returns a PDF extractor that runs pdftotext from PATH.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}}
}

// NewPDFWithRunner returns a PDF extractor using runner, for tests.
func NewPDFWithRunner(runner CommandRunner) *PDF {
	return &PDF{runner: runner}
}

// CheckAvailable reports whether pdftotext can be found.
func CheckAvailable() error {
	if _, err := exec.LookPath(pdfTool); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return "PDF extraction requires pdftotext (poppler).\n" +
		"  macOS:  brew install poppler\n" +
		"  Debian: apt install poppler-utils"
}

// Extract writes data to a temporary file and returns pdftotext's output with
// page breaks turned into paragraph breaks.
func (p *PDF) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyText
	}

	f, err := os.CreateTemp("", "paperchat-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	out, err := p.runner.Run(ctx, pdfTool, "-enc", "UTF-8", "-nopgbrk", f.Name(), "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrPDFToolNotFound
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("pdftotext: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("pdftotext: %w", err)
	}

	return normalisePDFText(string(out)), nil
}

// normalisePDFText drops form feeds and trailing spaces and unifies line endings.
func normalisePDFText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
