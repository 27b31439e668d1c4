package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/54b3r/connectq/internal/rag"
)

// HashEmbedder is a deterministic, offline embedder. Each lower-cased word is
// hashed into one of dimensions buckets and the resulting bag-of-words vector
// is normalised to unit length, so texts sharing words score above zero under
// cosine similarity. It backs EMBEDDING_PROVIDER=hash for local development
// and is the embedder used across the test suites.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a HashEmbedder producing vectors of the given size.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the vector length.
func (e *HashEmbedder) Dimensions() int { return e.dimensions }

// Embed hashes each text independently. The mode is ignored.
func (e *HashEmbedder) Embed(ctx context.Context, texts []string, _ rag.Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: hash embedder: no texts to embed", rag.ErrEmbedding)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: hash embedder: %w", rag.ErrEmbedding, err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(e.dimensions)]++ //nolint:gosec // dimensions is positive
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		norm := float32(1 / math.Sqrt(sum))
		for i := range v {
			v[i] *= norm
		}
	}
	return v
}
