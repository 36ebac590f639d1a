// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mentat-ai/mentat/pkg/llm"
	"github.com/openai/openai-go"
)

func TestProviderImplementsInterface(t *testing.T) {
	var _ llm.Provider = (*Provider)(nil)
}

func TestNewProvider(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != DefaultModel {
		t.Errorf("expected model %s, got %s", DefaultModel, p.model)
	}
}

func TestWithModel(t *testing.T) {
	p := NewWithAPIKey("test-key", WithModel("deepseek-chat"))
	if p.model != "deepseek-chat" {
		t.Errorf("expected model deepseek-chat, got %s", p.model)
	}
}

func TestConvertMessages(t *testing.T) {
	tests := []struct {
		name string
		msg  llm.Message
		pick func(openai.ChatCompletionMessageParamUnion) bool
	}{
		{
			name: "system",
			msg:  llm.Message{Role: llm.RoleSystem, Content: "You are helpful"},
			pick: func(u openai.ChatCompletionMessageParamUnion) bool { return u.OfSystem != nil },
		},
		{
			name: "user",
			msg:  llm.Message{Role: llm.RoleUser, Content: "Hello"},
			pick: func(u openai.ChatCompletionMessageParamUnion) bool { return u.OfUser != nil },
		},
		{
			name: "assistant",
			msg:  llm.Message{Role: llm.RoleAssistant, Content: "Hi"},
			pick: func(u openai.ChatCompletionMessageParamUnion) bool { return u.OfAssistant != nil },
		},
		{
			name: "unknown role falls back to user",
			msg:  llm.Message{Role: "tool", Content: "x"},
			pick: func(u openai.ChatCompletionMessageParamUnion) bool { return u.OfUser != nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.pick(convertMessage(tt.msg)) {
				t.Errorf("unexpected conversion for role %s", tt.msg.Role)
			}
		})
	}
}

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestChatAgainstServer(t *testing.T) {
	var body map[string]any
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "deepseek-chat",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "pong"}}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 1, "total_tokens": 5}
		}`))
	})

	p := NewWithAPIKey("test-key",
		WithBaseURL(server.URL+"/"),
		WithModel("deepseek-chat"),
		WithMaxRetries(0),
	)
	resp, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages:    []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "ping"}},
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "pong" || resp.Usage.TotalTokens != 5 {
		t.Errorf("unexpected response %+v", resp)
	}
	if body["model"] != "deepseek-chat" {
		t.Errorf("expected default model in request, got %v", body["model"])
	}
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %v", body["messages"])
	}
}

func TestChatServerError(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	})

	p := NewWithAPIKey("test-key", WithBaseURL(server.URL+"/"), WithMaxRetries(0))
	if _, err := p.Chat(context.Background(), llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
	}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestEmbedderAgainstServer(t *testing.T) {
	server := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.25, -0.5, 1]}],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	})

	e := NewEmbedder(WithAPIKey("test-key"), WithBaseURL(server.URL+"/"), WithMaxRetries(0))
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	want := []float32{0.25, -0.5, 1}
	if len(vec) != len(want) {
		t.Fatalf("expected %d dims, got %d", len(want), len(vec))
	}
	for i := range want {
		if vec[i] != want[i] {
			t.Errorf("dim %d: expected %v, got %v", i, want[i], vec[i])
		}
	}
}
