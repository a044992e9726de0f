// Package anthropic adapts the Anthropic Messages API to the Generator
// interface used by the engine and extractor.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultMaxTokens bounds response length.
const DefaultMaxTokens int64 = 4096

// Generator produces completions through the Anthropic API.
type Generator struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
	system    string
}

// Option configures the generator.
type Option func(*Generator)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(g *Generator) {
		if model != "" {
			g.model = model
		}
	}
}

// WithMaxTokens overrides the response token budget.
func WithMaxTokens(n int64) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithSystemPrompt sets a system prompt sent with every request.
func WithSystemPrompt(system string) Option {
	return func(g *Generator) { g.system = system }
}

// NewGenerator wraps an Anthropic client.
func NewGenerator(client *anthropic.Client, opts ...Option) *Generator {
	g := &Generator{
		client:    client,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends a single-turn request and concatenates the text blocks of
// the response.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if g.system != "" {
		params.System = []anthropic.TextBlockParam{{Text: g.system}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic response contained no text blocks")
	}
	return text, nil
}
