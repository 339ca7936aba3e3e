package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts sent per backend request;
	// MaxBatchSize caps configured values.
	DefaultBatchSize = 32
	MaxBatchSize     = 256

	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3

	// StaticDimensions is the vector width of the offline embedder.
	StaticDimensions = 256
)

// Embedder turns text into vectors. Vectors from one embedder share a
// dimension and are unit length, so inner product equals cosine.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns exactly one vector per input, in input order, or
	// an error and no vectors.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	// Available reports whether the backend can serve requests now.
	Available(ctx context.Context) bool
	Close() error
}

// checkBatch rejects backend output that cannot be paired with the request.
func checkBatch(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return serrors.BackendError(
			fmt.Sprintf("backend returned %d embeddings for %d inputs", len(vectors), want), nil)
	}
	for i, v := range vectors {
		switch {
		case len(v) == 0:
			return serrors.BackendError(fmt.Sprintf("embedding %d is empty", i), nil)
		case dims > 0 && len(v) != dims:
			return serrors.BackendError(
				fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), dims), nil)
		}
	}
	return nil
}

// unit scales v to length one in place and returns it. Zero vectors are
// returned unchanged.
func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
	return v
}
