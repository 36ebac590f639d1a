package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned once every scripted response was consumed.
var ErrScriptExhausted = errors.New("scripted mock: no more responses available")

// ScriptedMockProvider is a mock provider that returns a pre-defined sequence
// of responses. Useful for testing the multi-turn agent loop.
type ScriptedMockProvider struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	// CallCount tracks how many times Chat has been called.
	CallCount int
	// Requests records every request received, in order.
	Requests []ChatRequest
}

// NewScriptedMockProvider creates a new ScriptedMockProvider.
func NewScriptedMockProvider(responses ...string) *ScriptedMockProvider {
	return &ScriptedMockProvider{
		Responses: responses,
	}
}

// Chat pops the next scripted response or returns the configured error.
func (s *ScriptedMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.CallCount++
	msgs := make([]Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	s.Requests = append(s.Requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, ErrScriptExhausted
	}

	content := s.Responses[0]
	s.Responses = s.Responses[1:]

	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// AddResponse appends a response to the queue.
func (s *ScriptedMockProvider) AddResponse(response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Responses = append(s.Responses, response)
}

// Calls returns the number of Chat invocations so far.
func (s *ScriptedMockProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCount
}

// LastRequest returns the most recent request, or the zero value.
func (s *ScriptedMockProvider) LastRequest() ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return ChatRequest{}
	}
	return s.Requests[len(s.Requests)-1]
}
