package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// applyEnv overlays environment variables onto c. Variable names are part of
// the configuration contract; an unparsable value is a CONFIG error rather
// than a silent fallback.
func (c *Config) applyEnv() error {
	var err error

	setString("POSTGRES_HOST", &c.Store.Host)
	if err = setInt("POSTGRES_PORT", &c.Store.Port); err != nil {
		return err
	}
	setString("POSTGRES_DB", &c.Store.Database)
	setString("POSTGRES_USER", &c.Store.User)
	setString("POSTGRES_PASSWORD", &c.Store.Password)
	if err = setInt("POSTGRES_MAX_CONNECTIONS", &c.Store.MaxConnections); err != nil {
		return err
	}
	if err = setInt("HNSW_EF_SEARCH", &c.Store.HNSWEfSearch); err != nil {
		return err
	}
	if err = setInt("HNSW_EF_CONSTRUCTION", &c.Store.HNSWEfConstruction); err != nil {
		return err
	}

	setString("OLLAMA_HOST", &c.Backend.Host)
	if err = setSeconds("OLLAMA_TIMEOUT", &c.Backend.Timeout); err != nil {
		return err
	}
	setString("EMBEDDING_MODEL", &c.Backend.EmbeddingModel)
	if err = setInt("EMBEDDING_DIMENSIONS", &c.Backend.EmbeddingDimensions); err != nil {
		return err
	}
	if err = setInt("EMBEDDING_CONTEXT_WINDOW", &c.Backend.EmbeddingContextWindow); err != nil {
		return err
	}
	setString("SUMMARY_MODEL", &c.Backend.SummaryModel)
	if err = setInt("SUMMARY_CONTEXT_WINDOW", &c.Backend.SummaryContextWindow); err != nil {
		return err
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"SIMILARITY_THRESHOLD", &c.Search.SimilarityThreshold},
		{"CHUNK_SIMILARITY_THRESHOLD", &c.Search.ChunkSimilarityThreshold},
		{"DEDUP_THRESHOLD", &c.Search.DedupThreshold},
		{"HYBRID_VECTOR_WEIGHT", &c.Search.HybridVectorWeight},
		{"HYBRID_KEYWORD_WEIGHT", &c.Search.HybridKeywordWeight},
	} {
		if err = setFloat(f.name, f.dst); err != nil {
			return err
		}
	}

	for _, i := range []struct {
		name string
		dst  *int
	}{
		{"IMPORT_DEPTH", &c.Search.ImportDepth},
		{"WORKSPACE_DEPTH", &c.Search.WorkspaceDepth},
		{"SERVICE_DEPTH", &c.Search.ServiceDepth},
		{"MAX_FILE_SIZE", &c.Limits.MaxFileSize},
		{"INDEXING_BATCH_SIZE", &c.Indexing.BatchSize},
		{"MAX_CONTEXT_TOKENS", &c.Search.MaxContextTokens},
		{"WARN_CONTEXT_TOKENS", &c.Search.WarnContextTokens},
		{"QUERY_CACHE_SIZE", &c.Search.QueryCacheSize},
	} {
		if err = setInt(i.name, i.dst); err != nil {
			return err
		}
	}

	if err = setMinutes("QUERY_CACHE_TTL", &c.Search.QueryCacheTTL); err != nil {
		return err
	}

	for _, b := range []struct {
		name string
		dst  *bool
	}{
		{"PROTECT_SECRETS", &c.Detection.ProtectSecrets},
		{"DETECT_WORKSPACES", &c.Detection.DetectWorkspaces},
		{"DETECT_SERVICES", &c.Detection.DetectServices},
		{"DETECT_API_ENDPOINTS", &c.Detection.DetectAPIEndpoints},
		{"MULTI_REPO_MODE", &c.Detection.MultiRepoMode},
		{"HYBRID_SEARCH", &c.Search.HybridSearch},
	} {
		if err = setBool(b.name, b.dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("SECRET_PATTERNS"); v != "" {
		var patterns []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				patterns = append(patterns, p)
			}
		}
		c.Detection.SecretPatterns = patterns
	}

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return nil
}

func setString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return parseErr(name, v, "an integer")
	}
	*dst = n
	return nil
}

func setFloat(name string, dst *float64) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return parseErr(name, v, "a number")
	}
	*dst = f
	return nil
}

func setBool(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		return parseErr(name, v, "a boolean (true/false)")
	}
	return nil
}

// setSeconds reads an integer number of seconds.
func setSeconds(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return parseErr(name, v, "a number of seconds")
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

// setMinutes reads an integer number of minutes.
func setMinutes(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return parseErr(name, v, "a number of minutes")
	}
	*dst = time.Duration(n) * time.Minute
	return nil
}

func parseErr(name, value, want string) *cerrors.Error {
	return cerrors.Newf(cerrors.ErrCodeConfigParse,
		"%s=%q is not %s", name, value, want).
		WithSuggestion(fmt.Sprintf("Set %s to %s in your MCP configuration", name, want))
}
