package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
)

// DefaultMaxVectors caps the number of chunks an embedded store holds.
const DefaultMaxVectors = 50_000

// ErrDuplicateChunk is returned when a chunk id is added twice.
var ErrDuplicateChunk = errors.New("retrieval: duplicate chunk id")

// EmbeddedStore is an in-process vector store using brute-force cosine
// similarity. Suitable for development, tests and small workloads.
type EmbeddedStore struct {
	embedder   Embedder
	maxVectors int
	logger     *slog.Logger

	mu          sync.RWMutex
	collections map[string]*embeddedCollection
	total       int
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxVectors sets the maximum number of chunks across all collections.
func WithMaxVectors(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxVectors = max }
}

// WithEmbeddedLogger sets the logger used for capacity warnings.
func WithEmbeddedLogger(l *slog.Logger) EmbeddedOption {
	return func(s *EmbeddedStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewEmbeddedStore creates an in-memory vector store. A nil embedder uses a
// HashEmbedder.
func NewEmbeddedStore(embedder Embedder, opts ...EmbeddedOption) *EmbeddedStore {
	if embedder == nil {
		embedder = NewHashEmbedder(DefaultHashDimension)
	}
	s := &EmbeddedStore{
		embedder:    embedder,
		maxVectors:  DefaultMaxVectors,
		logger:      slog.Default(),
		collections: make(map[string]*embeddedCollection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the named collection, creating it if needed.
func (s *EmbeddedStore) Collection(_ context.Context, name string) (Collection, error) {
	if name == "" {
		return nil, errors.New("retrieval: collection name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &embeddedCollection{store: s, name: name, docs: make(map[string]*embeddedDoc)}
		s.collections[name] = c
	}
	return c, nil
}

// Count returns the number of chunks in a collection.
func (s *EmbeddedStore) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.docs)
	}
	return 0
}

type embeddedDoc struct {
	chunk  Chunk
	vector []float32
	seq    uint64
}

type embeddedCollection struct {
	store *EmbeddedStore
	name  string
	docs  map[string]*embeddedDoc
	seq   uint64
}

func (c *embeddedCollection) Add(ctx context.Context, chunks []Chunk) error {
	vectors := make([][]float32, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for i, ch := range chunks {
		if _, dup := seen[ch.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, ch.ID)
		}
		seen[ch.ID] = struct{}{}
		vec, err := c.store.embedder.Embed(ctx, ch.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %s: %w", ch.ID, err)
		}
		vectors[i] = vec
	}

	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range chunks {
		if _, exists := c.docs[ch.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateChunk, ch.ID)
		}
	}
	total := s.total + len(chunks)
	if total > s.maxVectors {
		return fmt.Errorf("embedded vector store capacity exceeded: %d > %d", total, s.maxVectors)
	}
	if total > int(float64(s.maxVectors)*0.9) {
		s.logger.Warn("retrieval.embedded.capacity", slog.Int("count", total), slog.Int("max", s.maxVectors))
	}
	for i, ch := range chunks {
		c.seq++
		c.docs[ch.ID] = &embeddedDoc{chunk: ch, vector: vectors[i], seq: c.seq}
	}
	s.total = total
	return nil
}

func (c *embeddedCollection) Query(ctx context.Context, text string, topK int, filter Filter) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	vector, err := c.store.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s := c.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		doc   *embeddedDoc
		score float64
	}
	candidates := make([]scored, 0, len(c.docs))
	for _, d := range c.docs {
		if !filter.Matches(d.chunk.Metadata) {
			continue
		}
		candidates = append(candidates, scored{doc: d, score: cosineSimilarity(vector, d.vector)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].doc.seq < candidates[j].doc.seq
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	results := make([]Match, topK)
	for i := 0; i < topK; i++ {
		results[i] = Match{Chunk: candidates[i].doc.chunk, Score: float32(candidates[i].score)}
	}
	return results, nil
}

func (c *embeddedCollection) Delete(_ context.Context, filter Filter) error {
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range c.docs {
		if filter.Matches(d.chunk.Metadata) {
			delete(c.docs, id)
			s.total--
		}
	}
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
