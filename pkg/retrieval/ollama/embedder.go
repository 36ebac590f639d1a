// Package ollama implements retrieval.Embedder with an Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mentat-ai/mentat/pkg/resilience"
)

// Embedder implements the retrieval.Embedder interface using Ollama.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
	retry   resilience.RetryConfig
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Embedder) {
		if c != nil {
			e.client = c
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(e *Embedder) {
		e.retry = cfg
	}
}

// NewEmbedder creates a new Ollama Embedder.
func NewEmbedder(baseURL, model string, opts ...Option) *Embedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	e := &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed converts a text string into a vector, retrying transient failures.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vec, err = e.embedOnce(ctx, text)
		return err
	})
	return vec, err
}

func (e *Embedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding api call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("ollama api returned status: %d", resp.StatusCode)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, resilience.Permanent(err)
		}
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}

	vec := make([]float32, len(embResp.Embedding))
	for i, v := range embResp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
