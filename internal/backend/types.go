// Package backend provides clients for the embedding/summary model service.
//
// The production client speaks the Ollama HTTP API (POST /api/embed,
// POST /api/generate, GET /api/tags). A deterministic hash-based embedder
// is available for tests and offline runs.
package backend

import (
	"context"
	"math"
	"time"
)

const (
	// DefaultHost is the default Ollama API endpoint.
	DefaultHost = "http://localhost:11434"

	// DefaultTimeout is the per-request timeout when none is configured.
	DefaultTimeout = 30 * time.Second

	// MinTimeout and MaxTimeout clamp the configured request timeout.
	MinTimeout = 1 * time.Second
	MaxTimeout = 5 * time.Minute

	// DefaultBatchSize is the number of texts per /api/embed call.
	DefaultBatchSize = 32

	// MaxBatchSize caps batch requests to bound memory on the model side.
	MaxBatchSize = 256

	// DefaultMaxRetries is the retry budget for transient transport failures.
	DefaultMaxRetries = 3

	// DefaultPoolSize is the HTTP connection pool size.
	DefaultPoolSize = 4

	// retryBaseDelay seeds the exponential backoff between attempts.
	retryBaseDelay = 200 * time.Millisecond
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName returns the embedding model identifier.
	ModelName() string

	// Available reports whether the backend is reachable and the model present.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Generator produces text completions for summary prompts.
type Generator interface {
	// Generate runs the summary model on a prompt and returns the full response.
	Generate(ctx context.Context, prompt string) (string, error)

	// SummaryModel returns the generation model identifier.
	SummaryModel() string
}

// ClampTimeout bounds a configured request timeout to the supported range.
// Zero or negative values fall back to the default.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	}
	return d
}

// normalizeVector scales a vector to unit length. Zero vectors pass through.
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
