package chat

import (
	"fmt"
	"strings"

	"github.com/literaq/paperchat/internal/llm"
	"github.com/literaq/paperchat/internal/storage"
)

// NoEvidenceAnswer is returned, without calling the model, when retrieval finds nothing.
const NoEvidenceAnswer = "I couldn't find relevant information in the paper to answer your question."

const systemPrompt = `You are an AI assistant helping users understand research papers. Your task is to answer questions based ONLY on the provided context chunks from the paper.

Guidelines:
- Be concise and direct in your answers
- Reference specific information from the chunks when relevant
- If the context doesn't contain enough information to answer the question, say so clearly
- Do not make assumptions or add information not present in the context
- Use clear, academic language appropriate for discussing research`

const (
	chunkDelimiter = "\n\n---\n\n"
	previewLength  = 200
)

// buildContext labels chunks by rank, best first.
func buildContext(chunks []*storage.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[Chunk %d]\n%s", i+1, c.Content)
	}
	return strings.Join(parts, chunkDelimiter)
}

// buildMessages returns the system instruction, the prior turns oldest first,
// and a final user turn carrying the context and the question.
func buildMessages(contextText string, history []*storage.Message, question string) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})

	for _, m := range history {
		role := llm.RoleUser
		if m.Role == storage.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}

	messages = append(messages, llm.Message{
		Role: llm.RoleUser,
		Content: fmt.Sprintf("Here are relevant excerpts from the research paper:\n\n%s\n\n---\n\nBased on these excerpts, please answer this question: %s",
			contextText, question),
	})
	return messages
}

// preview returns the first 200 characters of content, with "..." appended
// only when something was cut.
func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLength {
		return content
	}
	return string(r[:previewLength]) + "..."
}
