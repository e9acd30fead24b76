package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/markdave123-py/documind/internal/core"
)

const defaultMaxAnswerTokens = 1024

// AnthropicLLM generates answers with the Claude messages API.
type AnthropicLLM struct {
	client    anthropic.Client
	modelName string
	maxTokens int
}

func NewAnthropicLLM(apiKey, modelName string, maxTokens int, opts ...option.RequestOption) (*AnthropicLLM, error) {
	if apiKey == "" {
		return nil, &core.ConfigurationError{Field: "ANTHROPIC_API_KEY", Reason: "required"}
	}
	if modelName == "" {
		modelName = "claude-sonnet-4-5"
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxAnswerTokens
	}
	client := anthropic.NewClient(append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		// retries are owned by the resilience wrapper
		option.WithMaxRetries(0),
	}, opts...)...)
	return &AnthropicLLM{client: client, modelName: modelName, maxTokens: maxTokens}, nil
}

func (a *AnthropicLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.modelName),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", classify(ctx, ProviderAnthropic, opGenerate, fmt.Errorf("claude messages: %w", err))
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", &core.ProviderError{Provider: ProviderAnthropic, Op: opGenerate, Err: errors.New("no text in response")}
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*AnthropicLLM)(nil)
