// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai provides an OpenAI-compatible chat provider and embedder for
// Mentat. Any endpoint speaking the OpenAI API (DeepSeek, vLLM, LM Studio)
// works through WithBaseURL.
package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when neither the request nor the provider names one.
const DefaultModel = "gpt-4o-mini"

// Provider implements llm.Provider for the OpenAI API.
type Provider struct {
	client openai.Client
	model  string
}

type settings struct {
	model   string
	reqOpts []option.RequestOption
}

// Option configures the Provider and the Embedder.
type Option func(*settings)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithBaseURL sets a custom base URL (for compatible servers or proxies).
func WithBaseURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.reqOpts = append(s.reqOpts, option.WithBaseURL(url))
		}
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(s *settings) {
		if apiKey != "" {
			s.reqOpts = append(s.reqOpts, option.WithAPIKey(apiKey))
		}
	}
}

// WithHTTPClient sets the HTTP client, typically one from llm.NewHTTPClient.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) {
		if c != nil {
			s.reqOpts = append(s.reqOpts, option.WithHTTPClient(c))
		}
	}
}

// WithMaxRetries sets how many times the SDK retries failed requests.
func WithMaxRetries(n int) Option {
	return func(s *settings) {
		s.reqOpts = append(s.reqOpts, option.WithMaxRetries(n))
	}
}

func apply(defaultModel string, opts []Option) settings {
	s := settings{model: defaultModel}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New creates a new OpenAI provider.
// The API key is read from OPENAI_API_KEY unless WithAPIKey is given.
func New(opts ...Option) *Provider {
	s := apply(DefaultModel, opts)
	return &Provider{
		client: openai.NewClient(s.reqOpts...),
		model:  s.model,
	}
}

// NewWithAPIKey creates a new OpenAI provider with explicit API key.
func NewWithAPIKey(apiKey string, opts ...Option) *Provider {
	opts = append([]Option{WithAPIKey(apiKey)}, opts...)
	return New(opts...)
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, convertMessage(msg))
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion failed: %w", err)
	}
	return convertResponse(completion), nil
}

// convertMessage converts a transcript message to OpenAI format.
func convertMessage(msg llm.Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content)
	case llm.RoleAssistant:
		return openai.AssistantMessage(msg.Content)
	default:
		return openai.UserMessage(msg.Content)
	}
}

// convertResponse converts an OpenAI completion to the gateway format.
func convertResponse(completion *openai.ChatCompletion) *llm.ChatResponse {
	resp := &llm.ChatResponse{
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if len(completion.Choices) > 0 {
		resp.Content = completion.Choices[0].Message.Content
	}
	return resp
}

// Ensure Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)
