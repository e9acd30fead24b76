package services

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/documind/internal/models"
)

const systemPrompt = `You are DocuMind, an assistant that answers questions from an organization's internal documents.
Answer only from the provided context. If the context does not contain the answer, say so instead of guessing.
Cite the documents you used by their document id and section.`

// NoRelevantContentAnswer is returned when no chunk clears the similarity threshold.
const NoRelevantContentAnswer = "I couldn't find any relevant information in the knowledge base to answer your question. " +
	"Please try rephrasing or check if the relevant documents have been uploaded."

const sourcePreviewChars = 200

// buildUserPrompt lays out one block per retrieved chunk, in rank order, followed by the question.
func buildUserPrompt(query string, hits []models.ScoredChunk) string {
	blocks := make([]string, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[Document %s, Section %d]\n%s", h.Chunk.DocumentID, h.Chunk.Position, h.Chunk.Text)
	}

	var sb strings.Builder
	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(blocks, "\n\n"))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

func toSources(hits []models.ScoredChunk) []models.Source {
	out := make([]models.Source, len(hits))
	for i, h := range hits {
		out[i] = models.Source{
			DocumentID:     h.Chunk.DocumentID,
			ChunkIndex:     h.Chunk.Position,
			Score:          h.Score,
			ContentPreview: previewText(h.Chunk.Text, sourcePreviewChars),
		}
	}
	return out
}

// previewText cuts s to n runes and marks the cut with "...".
func previewText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
