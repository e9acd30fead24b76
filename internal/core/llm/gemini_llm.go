package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/documind/internal/core"
)

const (
	defaultGeminiModel = "gemini-1.5-flash"
	answerTemperature  = 0.7
)

// GeminiLLM answers grounded questions with a Gemini model.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
	maxTokens int32
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiLLM{client: cl, modelName: modelName, maxTokens: defaultMaxAnswerTokens}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate sends the context-and-question prompt under the system instruction.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(answerTemperature)
	m.SetMaxOutputTokens(g.maxTokens)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", geminiError(ctx, err)
	}
	return geminiAnswer(resp)
}

// geminiError classifies a GenerateContent failure. The SDK reports safety and
// recitation blocks as *genai.BlockedError; those never succeed on retry.
func geminiError(ctx context.Context, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &core.ProviderError{Provider: ProviderGemini, Op: opGenerate, Err: err}
	}
	return classify(ctx, ProviderGemini, opGenerate, fmt.Errorf("gemini generate: %w", err))
}

// geminiAnswer extracts the answer text. Blocked prompts or answers and empty answers
// are permanent failures.
func geminiAnswer(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", geminiFailure("empty response")
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", geminiFailure("prompt blocked: " + fb.BlockReason.String())
	}
	if len(resp.Candidates) == 0 {
		return "", geminiFailure("no candidates")
	}

	c := resp.Candidates[0]
	switch c.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "", geminiFailure("answer blocked: " + c.FinishReason.String())
	}
	if c.Content == nil {
		return "", geminiFailure("empty response")
	}

	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", geminiFailure("no text in response")
	}
	return b.String(), nil
}

func geminiFailure(msg string) error {
	return &core.ProviderError{Provider: ProviderGemini, Op: opGenerate, Err: errors.New(msg)}
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
