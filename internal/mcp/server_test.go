package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/backend"
	"github.com/cindex-dev/cindex/internal/config"
)

func TestNewServer_RequiresEngine(t *testing.T) {
	_, err := NewServer(Dependencies{
		Store:    newMockStore(),
		Embedder: backend.NewStaticEmbedder(8),
		Config:   config.New(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")
}

func TestNewServer_RequiresStore(t *testing.T) {
	_, err := NewServer(Dependencies{
		Engine:   &mockRetriever{},
		Embedder: backend.NewStaticEmbedder(8),
		Config:   config.New(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "store")
}

func TestNewServer_RequiresEmbedder(t *testing.T) {
	_, err := NewServer(Dependencies{
		Engine: &mockRetriever{},
		Store:  newMockStore(),
		Config: config.New(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder")
}

func TestNewServer_RequiresConfig(t *testing.T) {
	_, err := NewServer(Dependencies{
		Engine:   &mockRetriever{},
		Store:    newMockStore(),
		Embedder: backend.NewStaticEmbedder(8),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestNewServer_Defaults(t *testing.T) {
	srv := newTestServer(t, nil, nil)

	assert.NotNil(t, srv.MCPServer())
	assert.NotNil(t, srv.newRunner)

	name, ver := srv.Info()
	assert.Equal(t, "cindex", name)
	assert.NotEmpty(t, ver)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		defaultVal int
		min        int
		max        int
		want       int
	}{
		{"zero uses default", 0, 10, 1, 100, 10},
		{"negative uses default", -5, 10, 1, 100, 10},
		{"within range", 42, 10, 1, 100, 42},
		{"above max clamps", 500, 10, 1, 100, 100},
		{"at max", 100, 10, 1, 100, 100},
		{"at min", 1, 10, 1, 100, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampLimit(tt.limit, tt.defaultVal, tt.min, tt.max)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := generateRequestID()
		assert.Len(t, id, 8)
		assert.False(t, seen[id], "request IDs should not repeat")
		seen[id] = true
	}
}
