package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/literaq/paperchat/internal/chat"
	"github.com/literaq/paperchat/internal/storage"
)

const maxSearchResults = 20

// makeAskHandler creates the ask_paper tool handler.
func makeAskHandler(service *chat.Service) func(
	context.Context, *mcp.CallToolRequest, AskPaperInput,
) (*mcp.CallToolResult, AskPaperOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskPaperInput) (
		*mcp.CallToolResult, AskPaperOutput, error,
	) {
		answer, err := service.Ask(ctx, chat.Request{
			DocumentID: input.PaperID,
			SessionID:  input.ChatSessionID,
			Question:   input.Question,
		})
		if err != nil {
			return nil, AskPaperOutput{}, toolError(err)
		}

		sources := make([]SourceExcerpt, len(answer.Evidence))
		for i, ev := range answer.Evidence {
			sources[i] = SourceExcerpt{ChunkIndex: ev.ChunkIndex, Similarity: ev.Similarity, Preview: ev.Preview}
		}
		return nil, AskPaperOutput{
			ChatSessionID: answer.SessionID,
			Answer:        answer.Answer,
			Sources:       sources,
		}, nil
	}
}

// makeSearchHandler creates the search_paper tool handler.
func makeSearchHandler(service *chat.Service) func(
	context.Context, *mcp.CallToolRequest, SearchPaperInput,
) (*mcp.CallToolResult, SearchPaperOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchPaperInput) (
		*mcp.CallToolResult, SearchPaperOutput, error,
	) {
		k := min(input.MaxResults, maxSearchResults)

		passages, err := service.Search(ctx, input.PaperID, input.Query, k)
		if err != nil {
			return nil, SearchPaperOutput{}, toolError(err)
		}

		results := make([]Passage, len(passages))
		for i, p := range passages {
			results[i] = Passage{ChunkIndex: p.ChunkIndex, Similarity: p.Similarity, Content: p.Content}
		}
		if len(results) == 0 {
			return nil, SearchPaperOutput{
				Results: []Passage{},
				Message: "No matching passages found.",
			}, nil
		}
		return nil, SearchPaperOutput{Results: results}, nil
	}
}

// makeListHandler creates the list_papers tool handler.
func makeListHandler(store *storage.SQLiteStore) func(
	context.Context, *mcp.CallToolRequest, ListPapersInput,
) (*mcp.CallToolResult, ListPapersOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListPapersInput) (
		*mcp.CallToolResult, ListPapersOutput, error,
	) {
		docs, err := store.ListDocuments(ctx)
		if err != nil {
			return nil, ListPapersOutput{}, fmt.Errorf("failed to list papers: %w", err)
		}

		papers := make([]PaperInfo, len(docs))
		for i, doc := range docs {
			papers[i] = PaperInfo{
				ID:        doc.ID,
				Title:     doc.Title,
				Status:    string(doc.Status),
				Source:    doc.Source,
				CreatedAt: doc.CreatedAt,
			}
		}
		return nil, ListPapersOutput{Papers: papers, Count: len(papers)}, nil
	}
}

// makeStatusHandler creates the get_paper_status tool handler. Unknown
// papers are reported with Found=false rather than as an error.
func makeStatusHandler(store *storage.SQLiteStore) func(
	context.Context, *mcp.CallToolRequest, PaperStatusInput,
) (*mcp.CallToolResult, PaperStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PaperStatusInput) (
		*mcp.CallToolResult, PaperStatusOutput, error,
	) {
		doc, err := store.GetDocument(ctx, input.PaperID)
		if errors.Is(err, storage.ErrDocumentNotFound) {
			return nil, PaperStatusOutput{Found: false, PaperID: input.PaperID}, nil
		}
		if err != nil {
			return nil, PaperStatusOutput{}, fmt.Errorf("failed to get paper: %w", err)
		}

		out := PaperStatusOutput{
			Found:           true,
			PaperID:         doc.ID,
			Title:           doc.Title,
			Status:          string(doc.Status),
			TotalChunks:     doc.ChunkCount,
			CommittedChunks: doc.CommittedChunks,
			Error:           doc.Error,
			UpdatedAt:       doc.UpdatedAt,
		}
		// A paper without sessions is not an error for the tool.
		if session, err := store.LatestSession(ctx, doc.ID); err == nil {
			out.LatestSessionID = session.ID
		}
		return nil, out, nil
	}
}

// makeSummaryHandler creates the summarize_paper tool handler.
func makeSummaryHandler(summaries *chat.Summaries) func(
	context.Context, *mcp.CallToolRequest, SummarizePaperInput,
) (*mcp.CallToolResult, SummarizePaperOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SummarizePaperInput) (
		*mcp.CallToolResult, SummarizePaperOutput, error,
	) {
		sum, err := summaries.Get(ctx, input.PaperID)
		if err != nil {
			return nil, SummarizePaperOutput{}, toolError(err)
		}
		findings := sum.KeyFindings
		if findings == nil {
			findings = []string{}
		}
		return nil, SummarizePaperOutput{
			TLDR:        sum.TLDR,
			KeyFindings: findings,
			Methodology: sum.Methodology,
		}, nil
	}
}

// toolError keeps caller mistakes verbatim and hides upstream detail behind
// the same generic messages as the HTTP API.
func toolError(err error) error {
	switch {
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, chat.ErrNotReady),
		errors.Is(err, storage.ErrDocumentNotFound):
		return err
	case errors.Is(err, chat.ErrUpstream):
		return chat.ErrUpstream
	default:
		return fmt.Errorf("internal error: %w", err)
	}
}
