// Package generator sends a single prompt to a chat model and returns its reply.
package generator

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Generator turns a prompt into generated text
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelInfo() string
}

// OpenAIGenerator uses an OpenAI-compatible chat completions endpoint
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator creates a generator for the given chat model. A zero
// temperature leaves the provider default in place.
func NewOpenAIGenerator(client *openai.Client, model string, temperature float32) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, temperature: temperature}
}

// Generate sends prompt as a single user message.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// ModelInfo returns model information
func (g *OpenAIGenerator) ModelInfo() string {
	return "openai-" + g.model
}
