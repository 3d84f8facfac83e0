package backend

import "time"

// Config configures the Ollama client.
type Config struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// EmbeddingModel is the model used for /api/embed.
	EmbeddingModel string

	// EmbeddingDimensions is the expected vector size. The client verifies
	// the model's actual output against this at startup and on every
	// response; a mismatch is fatal.
	EmbeddingDimensions int

	// EmbeddingContextWindow is passed as num_ctx on embed requests (0 = model default).
	EmbeddingContextWindow int

	// SummaryModel is the model used for /api/generate.
	SummaryModel string

	// SummaryContextWindow is passed as num_ctx on generate requests (0 = model default).
	SummaryContextWindow int

	// Timeout is the per-request deadline, clamped to [1s, 5m].
	Timeout time.Duration

	// MaxRetries bounds retry attempts for transient transport failures.
	MaxRetries int

	// RetryBaseDelay seeds the exponential backoff between attempts.
	// Tests shrink this; production uses the default.
	RetryBaseDelay time.Duration

	// BatchSize is the number of texts per embed request.
	BatchSize int

	// PoolSize is the HTTP connection pool size.
	PoolSize int

	// SkipVerify skips the startup model-presence and dimension probe.
	// Used by tests that stub the HTTP server.
	SkipVerify bool
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	c.Timeout = ClampTimeout(c.Timeout)
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = retryBaseDelay
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchSize {
		c.BatchSize = MaxBatchSize
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	return c
}

// embedRequest is the /api/embed request body.
type embedRequest struct {
	Model   string        `json:"model"`
	Input   any           `json:"input"` // string or []string
	Options *modelOptions `json:"options,omitempty"`
}

// embedResponse is the /api/embed response body.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// generateRequest is the /api/generate request body.
type generateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options *modelOptions `json:"options,omitempty"`
}

// generateResponse is the non-streaming /api/generate response body.
type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// modelOptions carries per-request model parameters.
type modelOptions struct {
	NumCtx int `json:"num_ctx,omitempty"`
}

// modelListResponse is the /api/tags response body.
type modelListResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo describes an installed model.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}
