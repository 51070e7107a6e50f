package embed

import (
	"context"
	"math"
)

// Dimensions is the vector length every embedder must produce.
const Dimensions = 384

// DefaultModel is the model loaded when a request names none.
const DefaultModel = "all-minilm"

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// LoadProgress reports model load progress.
type LoadProgress struct {
	Model     string `json:"model"`
	Status    string `json:"status"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Percent   int    `json:"percent"`
}

// ProgressFunc receives load progress. It may be nil.
type ProgressFunc func(LoadProgress)

func (f ProgressFunc) report(p LoadProgress) {
	if f != nil {
		f(p)
	}
}

// normalizeVector returns v scaled to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
