package retrieval

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector size produced by NewHashEmbedder(0).
const DefaultHashDimension = 256

// HashEmbedder is a deterministic bag-of-words embedder based on feature
// hashing. It needs no model server, which makes it the offline default.
// Words are lowercased runs of letters and digits; ideographic scripts
// contribute one feature per character.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder with dim dimensions.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Dimension returns the vector size.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed returns an L2-normalized feature vector for text. Text without any
// token yields the zero vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, tok := range tokenize(text) {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func tokenize(text string) []string {
	var (
		tokens []string
		word   strings.Builder
	)
	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, word.String())
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
