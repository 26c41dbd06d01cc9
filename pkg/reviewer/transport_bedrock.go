package reviewer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockTransport invokes an Anthropic model through Amazon Bedrock, for
// deployments that route all model traffic through AWS rather than
// Anthropic's own API.
type BedrockTransport struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockTransport loads the default AWS config chain (env vars,
// shared config, IAM role) and binds to a Bedrock model id.
func NewBedrockTransport(ctx context.Context, modelID string) (BedrockTransport, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return BedrockTransport{}, fmt.Errorf("load aws config: %w", err)
	}
	return BedrockTransport{client: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

type bedrockMessagesRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Run implements Transport.
func (t BedrockTransport) Run(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(bedrockMessagesRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		Messages:         []bedrockMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal bedrock request: %w", err)
	}

	resp, err := t.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(t.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("bedrock invoke model: %w", err)
	}

	var out bedrockMessagesResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("unmarshal bedrock response: %w", err)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}
