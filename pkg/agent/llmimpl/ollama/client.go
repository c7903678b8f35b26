// Package ollama provides the Ollama backend for agent.LLMClient. Ollama is a
// local LLM runtime for running open-source models.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"conductor/pkg/agent"
)

// DefaultHost is used when no Ollama server URL is configured.
const DefaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement agent.LLMClient.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates an Ollama client. hostURL should be the server URL, e.g.
// "http://localhost:11434"; an empty or invalid URL falls back to the default.
func NewClient(hostURL, model string) agent.LLMClient {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		parsedURL, _ = url.Parse(DefaultHost)
	}

	return &Client{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}
}

// Complete implements the agent.LLMClient interface.
//
//nolint:gocritic // CompletionRequest passed by value matches interface
func (o *Client) Complete(ctx context.Context, in agent.CompletionRequest) (agent.CompletionResponse, error) {
	messages := make([]api.Message, 0, len(in.Messages))
	for i := range in.Messages {
		msg := &in.Messages[i]
		messages = append(messages, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return agent.CompletionResponse{}, fmt.Errorf("%w: ollama: %v", agent.ErrModelQuery, err)
	}
	if response.Message.Content == "" {
		return agent.CompletionResponse{}, agent.NewTransientError(fmt.Errorf("empty response from Ollama"))
	}

	return agent.CompletionResponse{Content: response.Message.Content}, nil
}
