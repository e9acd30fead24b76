package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/documind/internal/core"
)

// geminiMaxBatch is the per-request limit of BatchEmbedContents.
const geminiMaxBatch = 100

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	dim       int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string, dim int) (*GeminiEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName, dim: dim}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dim }

// EmbedTexts batches texts into as few BatchEmbedContents requests as the API allows.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	em := g.client.EmbeddingModel(g.modelName)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += geminiMaxBatch {
		end := min(start+geminiMaxBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		resp, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, classify(ctx, ProviderGemini, opEmbed, fmt.Errorf("gemini batch embed: %w", err))
		}
		if len(resp.Embeddings) != end-start {
			return nil, &core.ProviderError{
				Provider: ProviderGemini, Op: opEmbed,
				Err: fmt.Errorf("embed size mismatch: got %d want %d", len(resp.Embeddings), end-start),
			}
		}
		for _, e := range resp.Embeddings {
			if g.dim > 0 && len(e.Values) != g.dim {
				return nil, &core.ProviderError{
					Provider: ProviderGemini, Op: opEmbed,
					Err: fmt.Errorf("%w: got %d want %d", core.ErrDimensionMismatch, len(e.Values), g.dim),
				}
			}
			out = append(out, e.Values)
		}
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
