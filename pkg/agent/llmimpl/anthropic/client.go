// Package anthropic provides the Anthropic Claude backend for agent.LLMClient.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"conductor/pkg/agent"
)

// ClaudeClient wraps the Anthropic API client to implement agent.LLMClient.
type ClaudeClient struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClaudeClient creates a Claude client for the given model.
func NewClaudeClient(apiKey, model string) agent.LLMClient {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &ClaudeClient{
		client: client,
		model:  anthropic.Model(model),
	}
}

// prepareMessages extracts system messages into the system prompt and merges
// consecutive same-role messages so the sequence alternates user/assistant as
// the Anthropic API requires.
func prepareMessages(messages []agent.CompletionMessage) (systemPrompt string, alternating []agent.CompletionMessage, err error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemParts []string
	var conversational []agent.CompletionMessage
	for i := range messages {
		msg := &messages[i]
		if msg.Role == agent.RoleSystem {
			systemParts = append(systemParts, msg.Content)
			continue
		}
		conversational = append(conversational, *msg)
	}
	systemPrompt = strings.Join(systemParts, "\n\n")

	if len(conversational) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}

	for _, msg := range conversational {
		if len(alternating) > 0 && alternating[len(alternating)-1].Role == msg.Role {
			last := &alternating[len(alternating)-1]
			last.Content = last.Content + "\n\n" + msg.Content
			continue
		}
		alternating = append(alternating, msg)
	}

	if alternating[0].Role != agent.RoleUser {
		alternating = append([]agent.CompletionMessage{agent.NewUserMessage("(conversation resumes)")}, alternating...)
	}
	if alternating[len(alternating)-1].Role != agent.RoleUser {
		return "", nil, fmt.Errorf("last message must be user role, got: %s", alternating[len(alternating)-1].Role)
	}
	return systemPrompt, alternating, nil
}

// Complete implements the agent.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *ClaudeClient) Complete(ctx context.Context, in agent.CompletionRequest) (agent.CompletionResponse, error) {
	systemPrompt, alternating, err := prepareMessages(in.Messages)
	if err != nil {
		return agent.CompletionResponse{}, fmt.Errorf("%w: %v", agent.ErrModelQuery, err)
	}

	messages := make([]anthropic.MessageParam, 0, len(alternating))
	for i := range alternating {
		msg := &alternating[i]
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(in.MaxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return agent.CompletionResponse{}, fmt.Errorf("%w: anthropic: %v", agent.ErrModelQuery, err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return agent.CompletionResponse{}, agent.NewTransientError(fmt.Errorf("empty response from Claude API"))
	}

	var responseText string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			textBlock := block.AsText()
			responseText += textBlock.Text
		}
	}

	return agent.CompletionResponse{Content: responseText}, nil
}
