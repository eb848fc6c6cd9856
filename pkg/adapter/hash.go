package adapter

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// HashEmbedder generates deterministic unit vectors from the text hash. Equal
// texts always get equal vectors, but there is no semantic similarity. It is used
// for local runs and tests without a model.
type HashEmbedder struct {
	dimension int
}

func NewHash(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "embedding canceled")
	}

	hash := fnv.New64a()
	_, _ = hash.Write([]byte(text))
	seed := hash.Sum64()

	vec := make([]float32, h.dimension)
	var norm float64
	for i := range vec {
		// LCG step, mapped to [-1, 1]
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}

	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}

	return vec, nil
}

// checkDimension rejects provider responses of an unexpected length
func checkDimension(vec []float32, dimension int) ([]float32, error) {
	if len(vec) != dimension {
		return nil, goerr.New("unexpected embedding dimension",
			goerr.V("expected", dimension),
			goerr.V("actual", len(vec)))
	}
	return vec, nil
}
