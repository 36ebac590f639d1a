// Copyright 2026 © The Mentat Authors
// SPDX-License-Identifier: Apache-2.0

package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// DefaultEmbeddingModel is the embedding model used when none is configured.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder produces embeddings through the OpenAI embeddings endpoint.
type Embedder struct {
	client openai.Client
	model  string
}

// NewEmbedder creates an embedder. WithModel selects the embedding model.
func NewEmbedder(opts ...Option) *Embedder {
	s := apply(DefaultEmbeddingModel, opts)
	return &Embedder{
		client: openai.NewClient(s.reqOpts...),
		model:  s.model,
	}
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embeddings: empty response")
	}
	raw := resp.Data[0].Embedding
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}
