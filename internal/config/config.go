// Package config loads and validates cindex configuration. Values come from
// defaults, then an optional YAML file, then environment variables; the
// merged result is validated once at startup.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// Config is the complete cindex configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Backend   BackendConfig   `yaml:"backend"`
	Search    SearchConfig    `yaml:"search"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Detection DetectionConfig `yaml:"detection"`
	Limits    LimitsConfig    `yaml:"limits"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StoreConfig configures the PostgreSQL data store.
type StoreConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	// Password is required; there is no default.
	Password       string `yaml:"password"`
	MaxConnections int    `yaml:"max_connections"`

	// HNSW index tunables applied to vector columns.
	HNSWEfSearch       int `yaml:"hnsw_ef_search"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
}

// DSN renders the pgx connection string.
func (s StoreConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		s.User, s.Password, s.Host, s.Port, s.Database)
}

// BackendConfig configures the Ollama-compatible embedding/summary backend.
type BackendConfig struct {
	Host                   string        `yaml:"host"`
	Timeout                time.Duration `yaml:"timeout"`
	EmbeddingModel         string        `yaml:"embedding_model"`
	EmbeddingDimensions    int           `yaml:"embedding_dimensions"`
	EmbeddingContextWindow int           `yaml:"embedding_context_window"`
	SummaryModel           string        `yaml:"summary_model"`
	SummaryContextWindow   int           `yaml:"summary_context_window"`
	MaxRetries             int           `yaml:"max_retries"`
}

// SearchConfig configures retrieval scoring and budgets.
type SearchConfig struct {
	// HybridSearch toggles the keyword component; disabled means vector-only.
	HybridSearch        bool    `yaml:"hybrid_search"`
	HybridVectorWeight  float64 `yaml:"hybrid_vector_weight"`
	HybridKeywordWeight float64 `yaml:"hybrid_keyword_weight"`

	SimilarityThreshold      float64 `yaml:"similarity_threshold"`
	ChunkSimilarityThreshold float64 `yaml:"chunk_similarity_threshold"`
	DedupThreshold           float64 `yaml:"dedup_threshold"`
	APISimilarityThreshold   float64 `yaml:"api_similarity_threshold"`

	TopFiles     int `yaml:"top_files"`
	MaxChunks    int `yaml:"max_chunks"`
	MaxEndpoints int `yaml:"max_endpoints"`

	ImportDepth    int `yaml:"import_depth"`
	WorkspaceDepth int `yaml:"workspace_depth"`
	ServiceDepth   int `yaml:"service_depth"`
	MaxRepoDepth   int `yaml:"max_repo_depth"`

	MaxContextTokens  int `yaml:"max_context_tokens"`
	WarnContextTokens int `yaml:"warn_context_tokens"`

	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
	QueryCacheSize int           `yaml:"query_cache_size"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	// BatchSize is the worker count of the parse/chunk/summarize/embed pool.
	BatchSize     int    `yaml:"batch_size"`
	SummaryMethod string `yaml:"summary_method"` // llm or rule
}

// DetectionConfig toggles topology detectors and the secret gate.
type DetectionConfig struct {
	ProtectSecrets     bool     `yaml:"protect_secrets"`
	SecretPatterns     []string `yaml:"secret_patterns"` // Extends the defaults
	DetectWorkspaces   bool     `yaml:"detect_workspaces"`
	DetectServices     bool     `yaml:"detect_services"`
	DetectAPIEndpoints bool     `yaml:"detect_api_endpoints"`
	MultiRepoMode      bool     `yaml:"multi_repo_mode"`
}

// LimitsConfig bounds file handling.
type LimitsConfig struct {
	// MaxFileSize is the line count above which files are skipped entirely.
	MaxFileSize int `yaml:"max_file_size"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// New returns a Config populated with defaults. The store password has no
// default and must come from the environment or a config file.
func New() *Config {
	return &Config{
		Store: StoreConfig{
			Host:               "localhost",
			Port:               5432,
			Database:           "cindex",
			User:               "cindex",
			Password:           "",
			MaxConnections:     10,
			HNSWEfSearch:       128,
			HNSWEfConstruction: 128,
		},
		Backend: BackendConfig{
			Host:                   "http://localhost:11434",
			Timeout:                30 * time.Second,
			EmbeddingModel:         "nomic-embed-text",
			EmbeddingDimensions:    768,
			EmbeddingContextWindow: 8192,
			SummaryModel:           "qwen3:0.6b",
			SummaryContextWindow:   4096,
			MaxRetries:             3,
		},
		Search: SearchConfig{
			HybridSearch:             true,
			HybridVectorWeight:       0.7,
			HybridKeywordWeight:      0.3,
			SimilarityThreshold:      0.70,
			ChunkSimilarityThreshold: 0.30,
			DedupThreshold:           0.92,
			APISimilarityThreshold:   0.75,
			TopFiles:                 10,
			MaxChunks:                100,
			MaxEndpoints:             50,
			ImportDepth:              3,
			WorkspaceDepth:           3,
			ServiceDepth:             2,
			MaxRepoDepth:             2,
			MaxContextTokens:         32000,
			WarnContextTokens:        24000,
			QueryCacheTTL:            30 * time.Minute,
			QueryCacheSize:           1000,
		},
		Indexing: IndexingConfig{
			BatchSize:     8,
			SummaryMethod: "llm",
		},
		Detection: DetectionConfig{
			ProtectSecrets:     true,
			SecretPatterns:     nil,
			DetectWorkspaces:   true,
			DetectServices:     true,
			DetectAPIEndpoints: true,
			MultiRepoMode:      true,
		},
		Limits: LimitsConfig{
			MaxFileSize: 50000,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// UserConfigPath returns the user configuration file path, honoring
// XDG_CONFIG_HOME and defaulting to ~/.config/cindex/config.yaml.
func UserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cindex", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "cindex", "config.yaml")
	}
	return filepath.Join(home, ".config", "cindex", "config.yaml")
}

// Load builds the effective configuration: defaults, then the user config
// file (if present), then an explicit file (if given), then environment
// variables. The result is validated.
func Load(explicitFile string) (*Config, error) {
	cfg := New()

	if path := UserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	if explicitFile != "" {
		if !fileExists(explicitFile) {
			return nil, cerrors.Newf(cerrors.ErrCodeConfigMissing,
				"config file not found: %s", explicitFile).
				WithSuggestion("Check the --config path or remove the flag to use defaults")
		}
		if err := cfg.loadYAML(explicitFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadYAML overlays values from a YAML file onto c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeConfigParse, err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return cerrors.Wrapf(cerrors.ErrCodeConfigParse, err, "parse config %s", path).
			WithSuggestion("Fix the YAML syntax or delete the file to use defaults")
	}
	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every configured range. Violations are CONFIG errors with
// actionable suggestions; the first violation is returned.
func (c *Config) Validate() error {
	if c.Store.Password == "" {
		return cerrors.New(cerrors.ErrCodeConfigMissing,
			"POSTGRES_PASSWORD is not set", nil).
			WithSuggestion("Set POSTGRES_PASSWORD in your MCP configuration")
	}
	if c.Store.MaxConnections < 1 || c.Store.MaxConnections > 100 {
		return rangeErr("POSTGRES_MAX_CONNECTIONS", c.Store.MaxConnections, 1, 100)
	}
	if c.Store.HNSWEfSearch < 10 || c.Store.HNSWEfSearch > 1000 {
		return rangeErr("HNSW_EF_SEARCH", c.Store.HNSWEfSearch, 10, 1000)
	}
	if c.Store.HNSWEfConstruction < 10 || c.Store.HNSWEfConstruction > 1000 {
		return rangeErr("HNSW_EF_CONSTRUCTION", c.Store.HNSWEfConstruction, 10, 1000)
	}

	if c.Backend.EmbeddingDimensions < 1 || c.Backend.EmbeddingDimensions > 4096 {
		return rangeErr("EMBEDDING_DIMENSIONS", c.Backend.EmbeddingDimensions, 1, 4096)
	}
	if c.Backend.EmbeddingContextWindow < 512 || c.Backend.EmbeddingContextWindow > 131072 {
		return rangeErr("EMBEDDING_CONTEXT_WINDOW", c.Backend.EmbeddingContextWindow, 512, 131072)
	}
	if c.Backend.SummaryContextWindow < 512 || c.Backend.SummaryContextWindow > 131072 {
		return rangeErr("SUMMARY_CONTEXT_WINDOW", c.Backend.SummaryContextWindow, 512, 131072)
	}
	if c.Backend.Timeout < time.Second || c.Backend.Timeout > 300*time.Second {
		return cerrors.Newf(cerrors.ErrCodeConfigRange,
			"OLLAMA_TIMEOUT must be between 1s and 300s, got %s", c.Backend.Timeout).
			WithSuggestion("Set OLLAMA_TIMEOUT to a value between 1 and 300 seconds")
	}

	for _, t := range []struct {
		name  string
		value float64
	}{
		{"SIMILARITY_THRESHOLD", c.Search.SimilarityThreshold},
		{"CHUNK_SIMILARITY_THRESHOLD", c.Search.ChunkSimilarityThreshold},
		{"DEDUP_THRESHOLD", c.Search.DedupThreshold},
		{"HYBRID_VECTOR_WEIGHT", c.Search.HybridVectorWeight},
		{"HYBRID_KEYWORD_WEIGHT", c.Search.HybridKeywordWeight},
	} {
		if t.value < 0 || t.value > 1 {
			return cerrors.Newf(cerrors.ErrCodeConfigRange,
				"%s must be between 0.0 and 1.0, got %g", t.name, t.value).
				WithSuggestion(fmt.Sprintf("Set %s to a value between 0.0 and 1.0", t.name))
		}
	}
	if c.Search.SimilarityThreshold > c.Search.DedupThreshold {
		return cerrors.Newf(cerrors.ErrCodeConfigRange,
			"SIMILARITY_THRESHOLD (%g) must not exceed DEDUP_THRESHOLD (%g)",
			c.Search.SimilarityThreshold, c.Search.DedupThreshold).
			WithSuggestion("Lower SIMILARITY_THRESHOLD or raise DEDUP_THRESHOLD")
	}

	for _, d := range []struct {
		name  string
		value int
	}{
		{"IMPORT_DEPTH", c.Search.ImportDepth},
		{"WORKSPACE_DEPTH", c.Search.WorkspaceDepth},
		{"SERVICE_DEPTH", c.Search.ServiceDepth},
	} {
		if d.value < 1 || d.value > 10 {
			return rangeErr(d.name, d.value, 1, 10)
		}
	}

	if c.Limits.MaxFileSize < 100 || c.Limits.MaxFileSize > 100000 {
		return rangeErr("MAX_FILE_SIZE", c.Limits.MaxFileSize, 100, 100000)
	}
	if c.Indexing.BatchSize < 1 {
		return cerrors.Newf(cerrors.ErrCodeConfigRange,
			"INDEXING_BATCH_SIZE must be at least 1, got %d", c.Indexing.BatchSize).
			WithSuggestion("Set INDEXING_BATCH_SIZE to a positive worker count")
	}
	if m := c.Indexing.SummaryMethod; m != "llm" && m != "rule" {
		return cerrors.Newf(cerrors.ErrCodeConfigParse,
			"summary_method must be 'llm' or 'rule', got %q", m).
			WithSuggestion("Set summary_method to llm (with rule fallback) or rule")
	}
	if c.Search.WarnContextTokens > c.Search.MaxContextTokens {
		return cerrors.Newf(cerrors.ErrCodeConfigRange,
			"WARN_CONTEXT_TOKENS (%d) must not exceed MAX_CONTEXT_TOKENS (%d)",
			c.Search.WarnContextTokens, c.Search.MaxContextTokens).
			WithSuggestion("Lower WARN_CONTEXT_TOKENS or raise MAX_CONTEXT_TOKENS")
	}

	return nil
}

// Warnings returns non-fatal configuration findings to be logged at startup.
func (c *Config) Warnings() []string {
	var warns []string

	switch c.Backend.EmbeddingDimensions {
	case 384, 768, 1024, 1536, 3072:
	default:
		warns = append(warns, fmt.Sprintf(
			"EMBEDDING_DIMENSIONS=%d is unusual; common model sizes are 384, 768, 1024, 1536, 3072",
			c.Backend.EmbeddingDimensions))
	}

	if c.Store.HNSWEfSearch < c.Store.HNSWEfConstruction {
		warns = append(warns, fmt.Sprintf(
			"HNSW_EF_SEARCH (%d) is below HNSW_EF_CONSTRUCTION (%d); recall may suffer",
			c.Store.HNSWEfSearch, c.Store.HNSWEfConstruction))
	}

	if sum := c.Search.HybridVectorWeight + c.Search.HybridKeywordWeight; math.Abs(sum-1.0) > 0.01 {
		warns = append(warns, fmt.Sprintf(
			"hybrid weights sum to %.2f, expected 1.0; scores will be skewed", sum))
	}

	return warns
}

func rangeErr(name string, got, min, max int) *cerrors.Error {
	return cerrors.Newf(cerrors.ErrCodeConfigRange,
		"%s must be between %d and %d, got %d", name, min, max, got).
		WithSuggestion(fmt.Sprintf("Set %s to a value between %d and %d", name, min, max))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
