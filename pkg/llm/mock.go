package llm

import (
	"context"
	"fmt"
)

// MockProvider is a testing implementation of Provider.
type MockProvider struct {
	Response string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Chat returns the canned response, error or ChatFunc result.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &ChatResponse{
		Content: m.Response,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

// Chat always returns an error.
func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}

// EchoProvider answers with the last user message. It backs the "mock"
// provider setting so the CLI runs without a model server.
type EchoProvider struct{}

// Chat echoes the most recent user message.
func (EchoProvider) Chat(_ context.Context, req ChatRequest) (*ChatResponse, error) {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			return &ChatResponse{Content: "echo: " + req.Messages[i].Content}, nil
		}
	}
	return &ChatResponse{Content: "echo:"}, nil
}
