package preflight

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/config"
)

// stubBackend serves just enough of the Ollama API for the checks.
func stubBackend(t *testing.T, models []string, dims int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		type m struct {
			Name string `json:"name"`
		}
		out := struct {
			Models []m `json:"models"`
		}{}
		for _, name := range models {
			out.Models = append(out.Models, m{Name: name})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float64, dims)
		vec[0] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      models[0],
			"embeddings": [][]float64{vec},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func backendConfig(host string) *config.Config {
	cfg := config.New()
	cfg.Backend.Host = host
	cfg.Backend.Timeout = 2 * time.Second
	return cfg
}

func resultByName(t *testing.T, results []CheckResult, name string) CheckResult {
	t.Helper()
	for _, r := range results {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("no result named %q in %+v", name, results)
	return CheckResult{}
}

func TestCheckBackend_AllHealthy(t *testing.T) {
	srv := stubBackend(t, []string{"nomic-embed-text:latest", "qwen3:0.6b"}, 768)
	checker := New(backendConfig(srv.URL))

	results := checker.CheckBackend(context.Background())

	assert.Equal(t, StatusPass, resultByName(t, results, "backend_connection").Status)
	assert.Equal(t, StatusPass, resultByName(t, results, "embedding_model").Status)
	assert.Equal(t, StatusPass, resultByName(t, results, "summary_model").Status)
	dim := resultByName(t, results, "embedding_dimensions")
	assert.Equal(t, StatusPass, dim.Status)
	assert.Equal(t, "768", dim.Message)
}

func TestCheckBackend_Unreachable(t *testing.T) {
	cfg := backendConfig("http://127.0.0.1:1")
	checker := New(cfg)

	results := checker.CheckBackend(context.Background())

	require.Len(t, results, 1)
	conn := results[0]
	assert.Equal(t, "backend_connection", conn.Name)
	assert.Equal(t, StatusFail, conn.Status)
	assert.True(t, conn.Required)
}

func TestCheckBackend_MissingModelsWarn(t *testing.T) {
	srv := stubBackend(t, []string{"llama3:8b"}, 768)
	checker := New(backendConfig(srv.URL))

	results := checker.CheckBackend(context.Background())

	emb := resultByName(t, results, "embedding_model")
	assert.Equal(t, StatusWarn, emb.Status)
	assert.Contains(t, emb.Details, "ollama pull nomic-embed-text")
	assert.Equal(t, StatusWarn, resultByName(t, results, "summary_model").Status)

	// Dimension probe is skipped when the embedding model is absent.
	for _, r := range results {
		assert.NotEqual(t, "embedding_dimensions", r.Name)
	}
}

func TestCheckBackend_DimensionMismatchFails(t *testing.T) {
	srv := stubBackend(t, []string{"nomic-embed-text", "qwen3:0.6b"}, 384)
	checker := New(backendConfig(srv.URL))

	results := checker.CheckBackend(context.Background())

	dim := resultByName(t, results, "embedding_dimensions")
	assert.Equal(t, StatusFail, dim.Status)
	assert.Contains(t, dim.Message, "384")
	assert.Contains(t, dim.Message, "768")
}
