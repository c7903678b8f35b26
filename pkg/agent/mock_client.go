package agent

import (
	"context"
	"fmt"
	"sync"
)

// MockResponse is one scripted reply, or an error to return in its place.
type MockResponse struct {
	Content string
	Err     error
}

// MockLLMClient returns scripted responses in order. Safe for concurrent use.
// Once the script runs out it repeats the last response, so conversational
// tests do not have to count turns exactly.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []CompletionRequest
	index     int
}

// NewMockLLMClient creates a mock client with the given script.
func NewMockLLMClient(responses ...MockResponse) *MockLLMClient {
	return &MockLLMClient{responses: responses}
}

// Complete implements LLMClient by replaying the script.
func (m *MockLLMClient) Complete(_ context.Context, in CompletionRequest) (CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)

	if len(m.responses) == 0 {
		return CompletionResponse{}, fmt.Errorf("%w: mock has no scripted responses", ErrModelQuery)
	}

	resp := m.responses[m.index]
	if m.index < len(m.responses)-1 {
		m.index++
	}

	if resp.Err != nil {
		return CompletionResponse{}, resp.Err
	}
	return CompletionResponse{Content: resp.Content}, nil
}

// Enqueue appends more scripted responses.
func (m *MockLLMClient) Enqueue(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

// Requests returns a copy of every request the mock has seen.
func (m *MockLLMClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many completions were requested.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
