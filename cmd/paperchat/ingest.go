package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/literaq/paperchat/internal/app"
	"github.com/literaq/paperchat/internal/ingest"
	"github.com/literaq/paperchat/internal/sources"
	"github.com/literaq/paperchat/internal/storage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Extract, chunk and embed local papers (PDF, Markdown or text)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			var failed int
			for _, path := range args {
				if err := ingestFile(ctx, a, path); err != nil {
					fmt.Printf("  %s: %v\n", path, err)
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		})
	},
}

func ingestFile(ctx context.Context, a *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	doc, result, err := a.Importer.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		if doc != nil {
			return fmt.Errorf("paper %s: %w", doc.ID, err)
		}
		return err
	}
	printIngested(doc, result)
	return nil
}

func printIngested(doc *storage.Document, result *ingest.Result) {
	fmt.Printf("Ingested %q\n", doc.Title)
	fmt.Printf("  Paper: %s\n", doc.ID)
	fmt.Printf("  Chunks: %d\n", result.Chunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))
}

var importTitle string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import papers from arXiv or GitHub",
}

var importArXivCmd = &cobra.Command{
	Use:   "arxiv <id>",
	Short: "Download and ingest an arXiv paper",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			doc, err := a.Importer.ImportArXiv(ctx, args[0], importTitle)
			if err != nil {
				return err
			}
			return waitReady(ctx, a, []*storage.Document{doc})
		})
	},
}

var importGitHubCmd = &cobra.Command{
	Use:   "github <owner/repo/path>",
	Short: "Ingest a paper file, or every paper under a directory, from a GitHub repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, path, err := splitGitHubRef(args[0])
		if err != nil {
			return err
		}
		return withApp(func(ctx context.Context, a *app.App) error {
			paths := []string{path}
			if !sources.IsPaperFile(path) {
				if paths, err = a.GitHub.ListPapers(ctx, owner, repo, path); err != nil {
					return err
				}
				fmt.Printf("Found %d papers under %s\n", len(paths), args[0])
			}

			var docs []*storage.Document
			for _, p := range paths {
				doc, err := a.Importer.ImportGitHub(ctx, owner, repo, p)
				if errors.Is(err, storage.ErrDuplicateSource) {
					fmt.Printf("  %s: already imported\n", p)
					continue
				}
				if err != nil {
					return fmt.Errorf("%s: %w", p, err)
				}
				docs = append(docs, doc)
			}
			return waitReady(ctx, a, docs)
		})
	},
}

func init() {
	importArXivCmd.Flags().StringVar(&importTitle, "title", "", "paper title (default arXiv:<id>)")
	importCmd.AddCommand(importArXivCmd, importGitHubCmd)
}

func splitGitHubRef(ref string) (owner, repo, path string, err error) {
	parts := strings.SplitN(strings.Trim(ref, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("expected owner/repo[/path], got %q", ref)
	}
	if len(parts) == 3 {
		path = parts[2]
	}
	return parts[0], parts[1], path, nil
}

// waitReady blocks until background imports finish and reports each document's final state.
func waitReady(ctx context.Context, a *app.App, docs []*storage.Document) error {
	if len(docs) == 0 {
		return nil
	}
	fmt.Printf("Ingesting %d papers...\n", len(docs))
	a.Importer.Wait()

	var failed int
	for _, d := range docs {
		doc, err := a.Store.GetDocument(ctx, d.ID)
		if err != nil {
			return err
		}
		fmt.Printf("  %s %-10s %s (%d chunks)\n", doc.ID, doc.Status, doc.Title, doc.CommittedChunks)
		if doc.Status == storage.StatusFailed {
			fmt.Printf("    error: %s\n", doc.Error)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d papers failed", failed)
	}
	return nil
}
