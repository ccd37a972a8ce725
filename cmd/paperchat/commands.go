package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/literaq/paperchat/internal/app"
	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/chunking"
	"github.com/literaq/paperchat/internal/extract"
	"github.com/literaq/paperchat/internal/ingest"
	"github.com/literaq/paperchat/internal/logging"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask <paperId> <question>",
	Short: "Ask a question about an ingested paper",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			if a.Config.Retrieval.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.Config.Retrieval.Timeout)
				defer cancel()
			}

			answer, err := a.Chat.Ask(ctx, chat.Request{
				DocumentID: args[0],
				SessionID:  askSession,
				Question:   args[1],
			})
			if err != nil {
				return err
			}

			fmt.Println(answer.Answer)
			fmt.Println()
			fmt.Println("Sources:")
			for _, ev := range answer.Evidence {
				fmt.Printf("  [%d] %.3f  %s\n", ev.ChunkIndex, ev.Similarity, ev.Preview)
			}
			fmt.Println()
			fmt.Printf("Session: %s (pass --session to continue)\n", answer.SessionID)
			return nil
		})
	},
}

var chunkStats bool

var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Show how a paper would be chunked, without embedding or storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		res, err := extract.New().Extract(cmd.Context(), filepath.Base(args[0]), data)
		if err != nil {
			return err
		}
		chunker := chunking.NewChunker(cfg.Chunking.MaxTokens, cfg.Chunking.OverlapTokens)
		chunks := chunker.ChunkText(res.Text)

		fmt.Printf("Title: %s\n", res.Title)
		fmt.Printf("Kind: %s\n", res.Kind)
		fmt.Printf("Chunks: %d (max %d tokens, overlap %d)\n", len(chunks), chunker.MaxTokens(), chunker.OverlapTokens())
		if !chunkStats {
			for _, ch := range chunks {
				fmt.Printf("  #%-4d %5d est. tokens  %s\n", ch.Index, chunking.EstimateTokens(ch.Content), preview(ch.Content, 60))
			}
			return nil
		}

		counter, err := chunking.NewTokenCounter()
		if err != nil {
			return err
		}
		summary := counter.Stats(chunks, chunker.MaxTokens())
		for _, st := range summary.Chunks {
			fmt.Printf("  #%-4d %6d chars  %5d est.  %5d actual\n", st.Index, st.Chars, st.Estimated, st.Actual)
		}
		fmt.Println()
		fmt.Printf("Max tokens: %d\n", summary.MaxActual)
		fmt.Printf("Mean tokens: %.1f\n", summary.MeanActual)
		fmt.Printf("Over budget: %d\n", summary.OverBudget)
		fmt.Printf("Estimate/actual: %.2f\n", summary.MeanEstRatio)
		return nil
	},
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

var watchExisting bool

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest papers as they are added to a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			w := ingest.NewWatcher(a.Importer, ingest.WatchOptions{Existing: watchExisting}, logging.Module("watch"))
			return w.Run(ctx, args[0])
		})
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex [paperId]",
	Short: "Rebuild the vector index from stored chunks",
	Long: `Rebuild the vector index from the chunk rows in the database.

Use this after switching vector_backend to qdrant, or after restoring Qdrant
from an empty state. Embeddings are not recomputed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app.App) error {
			var ids []string
			if len(args) == 1 {
				ids = []string{args[0]}
			} else {
				docs, err := a.Store.ListDocuments(ctx)
				if err != nil {
					return err
				}
				for _, d := range docs {
					ids = append(ids, d.ID)
				}
			}

			var total int
			for _, id := range ids {
				n, err := a.Pipeline.Reindex(ctx, id)
				if err != nil {
					return fmt.Errorf("reindex %s: %w", id, err)
				}
				fmt.Printf("  %s: %d chunks\n", id, n)
				total += n
			}
			fmt.Printf("Reindexed %d papers, %d chunks\n", len(ids), total)
			return nil
		})
	},
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "continue an existing chat session")
	chunkCmd.Flags().BoolVar(&chunkStats, "stats", false, "measure chunks with the tiktoken tokenizer")
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "also ingest files already in the directory")
}
