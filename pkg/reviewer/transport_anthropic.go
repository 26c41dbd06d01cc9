package reviewer

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicTransport calls the Anthropic Messages API directly, for
// deployments that would rather hold an API key than shell out to the
// claude CLI.
type AnthropicTransport struct {
	client anthropic.Client
	model  string
}

// NewAnthropicTransport builds a transport bound to a model id (e.g.
// "claude-sonnet-4-5"). The API key is read from ANTHROPIC_API_KEY by the
// SDK's default client options.
func NewAnthropicTransport(apiKey, model string) AnthropicTransport {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return AnthropicTransport{client: anthropic.NewClient(opts...), model: model}
}

// Run implements Transport.
func (t AnthropicTransport) Run(ctx context.Context, prompt string) (string, error) {
	resp, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
