// Package llm wraps a hosted chat-completion model for answer generation.
package llm

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultMaxChars caps prompt length before truncation. Rough estimate of
// 4 characters per token against a 16k-token budget.
const DefaultMaxChars = 64000

// Config holds generator settings. BaseURL points at any
// OpenAI-compatible endpoint; the default deployment uses Groq.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// Generator produces grounded answers from filled prompts. Stateless per
// call.
type Generator struct {
	client      *openai.Client
	model       string
	temperature float64
	maxChars    int
}

// NewGenerator creates a Generator from config.
func NewGenerator(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat api key not configured")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &Generator{
		client:      &client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxChars:    DefaultMaxChars,
	}, nil
}

// Generate sends the prompt to the model and returns the generated text.
// Temperature is fixed low for determinism-leaning factual output.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = truncate(prompt, g.maxChars)

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       g.model,
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// truncate cuts s to at most max bytes, backing off to a rune boundary
// so a multi-byte UTF-8 sequence is never split.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
