package repository

import (
	"math"
	"sort"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
)

const (
	// MaxLimit is the upper bound of results returned by list and search
	MaxLimit = 100

	// similarityTolerance absorbs float32 rounding of stored vectors so that an
	// identical vector still matches a threshold of 1
	similarityTolerance = 1e-6
)

// Option configures a repository
type Option func(*options)

type options struct {
	dimension int
	now       func() time.Time
}

func newOptions(opts []Option) *options {
	o := &options{
		dimension: model.DefaultDimension,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDimension sets the embedding dimension accepted by the repository
func WithDimension(dim int) Option {
	return func(o *options) {
		o.dimension = dim
	}
}

// WithClock replaces the clock used to assign CreatedAt
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// clampLimit rejects non-positive limits and caps the rest at MaxLimit
func clampLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, model.NewValidationError("limit", "limit must be a positive integer",
			goerr.V("limit", limit))
	}
	if limit > MaxLimit {
		return MaxLimit, nil
	}
	return limit, nil
}

// sortScored orders by similarity desc, CreatedAt desc, then ID asc
func sortScored(results []*model.ScoredMemory) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})
}

// sortRecent orders by CreatedAt desc, then ID asc
func sortRecent(memories []*model.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		a, b := memories[i], memories[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 when it is
// undefined (empty or zero-norm vectors)
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

	return clampSimilarity(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// clampSimilarity keeps a computed score within [-1, 1] and maps NaN to 0
func clampSimilarity(sim float64) float64 {
	switch {
	case math.IsNaN(sim):
		return 0
	case sim > 1:
		return 1
	case sim < -1:
		return -1
	}
	return sim
}

// meetsThreshold reports whether sim is at least threshold, within
// similarityTolerance
func meetsThreshold(sim, threshold float64) bool {
	return sim+similarityTolerance >= threshold
}
