// Package openai provides the OpenAI backend for agent.LLMClient using the
// official Go package.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"conductor/pkg/agent"
)

// Client wraps the official OpenAI Go client to implement agent.LLMClient.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates an OpenAI client for the given model.
func NewClient(apiKey, model string) agent.LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: client,
		model:  model,
	}
}

// Complete implements the agent.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (c *Client) Complete(ctx context.Context, in agent.CompletionRequest) (agent.CompletionResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		switch msg.Role {
		case agent.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case agent.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		case agent.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(in.MaxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return agent.CompletionResponse{}, fmt.Errorf("%w: openai: %v", agent.ErrModelQuery, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return agent.CompletionResponse{}, agent.NewTransientError(fmt.Errorf("empty response from OpenAI API"))
	}

	return agent.CompletionResponse{Content: resp.Choices[0].Message.Content}, nil
}
