package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

func newTestClient(t *testing.T, host string, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		Host:                host,
		EmbeddingModel:      "test-embed:latest",
		EmbeddingDimensions: 4,
		SummaryModel:        "test-gen:latest",
		Timeout:             2 * time.Second,
		MaxRetries:          2,
		RetryBaseDelay:      time.Millisecond,
		SkipVerify:          true,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	client, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// inputCount extracts how many texts an /api/embed request carries.
func inputCount(t *testing.T, r *http.Request) int {
	t.Helper()

	var req struct {
		Input any `json:"input"`
	}
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

	switch v := req.Input.(type) {
	case string:
		return 1
	case []any:
		return len(v)
	default:
		t.Fatalf("unexpected input type %T", req.Input)
		return 0
	}
}

func writeEmbeddings(t *testing.T, w http.ResponseWriter, vecs [][]float64) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(embedResponse{
		Model:      "test-embed:latest",
		Embeddings: vecs,
	}))
}

func TestClient_Embed_ReturnsNormalizedVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		writeEmbeddings(t, w, [][]float64{{3, 4, 0, 0}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	vec, err := client.Embed(context.Background(), "func main() {}")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 0.6, vec[0], 0.001)
	assert.InDelta(t, 0.8, vec[1], 0.001)
	assert.InDelta(t, 1.0, vectorMagnitude(vec), 0.001)
}

func TestClient_Embed_EmptyTextSkipsBackend(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	vec, err := client.Embed(context.Background(), "   \n\t")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClient_EmbedBatch_PreservesOrderWithEmptyEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Encode each text's length into the vector so order is checkable
		// after normalization.
		var texts []string
		switch v := req.Input.(type) {
		case string:
			texts = []string{v}
		case []any:
			for _, item := range v {
				texts = append(texts, item.(string))
			}
		}
		vecs := make([][]float64, len(texts))
		for i, text := range texts {
			vecs[i] = []float64{float64(len(text)), 1, 0, 0}
		}
		writeEmbeddings(t, w, vecs)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	results, err := client.EmbedBatch(context.Background(), []string{"a", "", "bb"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// "a" → [1,1]/√2, "" → zeros, "bb" → [2,1]/√5.
	assert.InDelta(t, 0.7071, results[0][0], 0.001)
	assert.Equal(t, make([]float32, 4), results[1])
	assert.InDelta(t, 0.8944, results[2][0], 0.001)
}

func TestClient_EmbedBatch_SplitsLargeBatches(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		n := inputCount(t, r)
		vecs := make([][]float64, n)
		for i := range vecs {
			vecs[i] = []float64{1, 0, 0, 0}
		}
		writeEmbeddings(t, w, vecs)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, func(cfg *Config) { cfg.BatchSize = 2 })

	texts := []string{"one", "two", "three", "four", "five"}
	results, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, int32(3), requests.Load(), "5 texts at batch size 2 should take 3 requests")
}

func TestClient_Embed_DimensionMismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEmbeddings(t, w, [][]float64{{1, 0, 0}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Embed(context.Background(), "some text")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeBackendDimension, cerrors.GetCode(err))
	assert.True(t, cerrors.IsFatal(err))
}

func TestClient_Embed_RetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "model is loading", http.StatusInternalServerError)
			return
		}
		writeEmbeddings(t, w, [][]float64{{1, 0, 0, 0}})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetries = 3 })

	vec, err := client.Embed(context.Background(), "retry me")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestClient_Embed_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'test-embed:latest' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeModelNotFound, cerrors.GetCode(err))
	assert.True(t, cerrors.IsFatal(err))

	var ce *cerrors.Error
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, ce.Suggestion, "ollama pull test-embed:latest")
}

func TestClient_Embed_BackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	client := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetries = 1 })

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeBackendDown, cerrors.GetCode(err))
	assert.True(t, cerrors.IsRetryable(err))
}

func TestClient_CircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	// MaxRetries 3 means 4 attempts per call; the breaker needs 5 failures
	// to trip, so it opens during the second call.
	client := newTestClient(t, srv.URL, func(cfg *Config) { cfg.MaxRetries = 3 })

	_, err := client.Embed(context.Background(), "first")
	require.Error(t, err)

	_, err = client.Embed(context.Background(), "second")
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeBackendDown, cerrors.GetCode(err))
	assert.Contains(t, err.Error(), "circuit open")

	assert.Equal(t, int32(5), requests.Load(), "open breaker should stop traffic after the fifth failure")
}

func TestClient_Generate_ReturnsTrimmedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-gen:latest", req.Model)
		assert.False(t, req.Stream)

		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{
			Model:    req.Model,
			Response: "  Parses YAML manifests into workspace records.\n",
			Done:     true,
		}))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	text, err := client.Generate(context.Background(), "Summarize this file")
	require.NoError(t, err)
	assert.Equal(t, "Parses YAML manifests into workspace records.", text)
}

func TestClient_Generate_PassesContextWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Options)
		assert.Equal(t, 8192, req.Options.NumCtx)

		require.NoError(t, json.NewEncoder(w).Encode(generateResponse{Response: "ok", Done: true}))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, func(cfg *Config) { cfg.SummaryContextWindow = 8192 })

	_, err := client.Generate(context.Background(), "prompt")
	require.NoError(t, err)
}

func TestClient_HasModel_MatchesFullAndBaseNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(modelListResponse{
			Models: []ModelInfo{{Name: "qwen3-embedding:0.6b"}, {Name: "llama3.2:3b"}},
		}))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx := context.Background()

	for _, tc := range []struct {
		model string
		want  bool
	}{
		{"qwen3-embedding:0.6b", true},
		{"qwen3-embedding", true},
		{"QWEN3-Embedding:0.6B", true},
		{"llama3.2:1b", true}, // base name matches an installed tag
		{"nomic-embed-text", false},
	} {
		got, err := client.HasModel(ctx, tc.model)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "model %q", tc.model)
	}
}

func TestNewClient_VerifyRejectsMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(modelListResponse{
			Models: []ModelInfo{{Name: "llama3.2:3b"}},
		}))
	}))
	defer srv.Close()

	_, err := NewClient(context.Background(), Config{
		Host:                srv.URL,
		EmbeddingModel:      "qwen3-embedding:0.6b",
		EmbeddingDimensions: 4,
		RetryBaseDelay:      time.Millisecond,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeModelNotFound, cerrors.GetCode(err))
}

func TestNewClient_VerifyRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			require.NoError(t, json.NewEncoder(w).Encode(modelListResponse{
				Models: []ModelInfo{{Name: "qwen3-embedding:0.6b"}},
			}))
		case "/api/embed":
			writeEmbeddings(t, w, [][]float64{{1, 0, 0}})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	_, err := NewClient(context.Background(), Config{
		Host:                srv.URL,
		EmbeddingModel:      "qwen3-embedding:0.6b",
		EmbeddingDimensions: 8,
		RetryBaseDelay:      time.Millisecond,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, cerrors.ErrCodeBackendDimension, cerrors.GetCode(err))
	assert.True(t, cerrors.IsFatal(err))
}

func TestClient_Embed_AfterCloseFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.Close())

	_, err := client.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestClampTimeout(t *testing.T) {
	for _, tc := range []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultTimeout},
		{-1 * time.Second, DefaultTimeout},
		{500 * time.Millisecond, MinTimeout},
		{45 * time.Second, 45 * time.Second},
		{10 * time.Minute, MaxTimeout},
	} {
		assert.Equal(t, tc.want, ClampTimeout(tc.in), "ClampTimeout(%s)", tc.in)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.True(t, isTransient(&statusError{code: http.StatusInternalServerError, body: "boom"}))
	assert.True(t, isTransient(&statusError{code: http.StatusTooManyRequests, body: "slow down"}))
	assert.False(t, isTransient(&statusError{code: http.StatusNotFound, body: "no model"}))
	assert.False(t, isTransient(&statusError{code: http.StatusBadRequest, body: "bad input"}))
	assert.False(t, isTransient(errors.New("decode response: invalid character")))
}
