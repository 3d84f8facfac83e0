package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/model"
	"github.com/cindex-dev/cindex/internal/parse"
	"github.com/cindex-dev/cindex/internal/scanner"
)

func markdownInput(t *testing.T, path string, lines ...string) FileInput {
	t.Helper()
	content := []byte(strings.Join(lines, "\n") + "\n")
	res, err := parse.NewMarkdown().Parse(context.Background(), path, content)
	require.NoError(t, err)
	return FileInput{
		RepoID:      "demo",
		Path:        path,
		Language:    "markdown",
		ContentType: scanner.ContentTypeMarkdown,
		Content:     content,
		Parse:       res,
	}
}

func TestChunker_Markdown_SectionsAndFences(t *testing.T) {
	in := markdownInput(t, "docs/guide.md",
		"# Guide",
		"Intro paragraph line one.",
		"Line two of intro.",
		"",
		"## Install",
		"Run this:",
		"",
		"```sh",
		"make install",
		"```",
		"",
		"After fence text.",
	)

	c := NewChunker(Options{})
	chunks, err := c.ChunkFile(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assertDisjointOrdered(t, chunks)

	guide := chunks[0]
	assert.Equal(t, model.ChunkTypeSection, guide.Type)
	assert.Equal(t, 1, guide.StartLine)
	assert.Equal(t, 4, guide.EndLine, "parent text stops at the first child heading")
	assert.Equal(t, []string{"Guide"}, guide.Metadata.HeadingPath)
	assert.Equal(t, "markdown", guide.Metadata.Language)

	install := chunks[1]
	assert.Equal(t, model.ChunkTypeSection, install.Type)
	assert.Equal(t, 5, install.StartLine)
	assert.Equal(t, 7, install.EndLine)
	assert.Equal(t, []string{"Guide", "Install"}, install.Metadata.HeadingPath)

	block := chunks[2]
	assert.Equal(t, model.ChunkTypeCodeBlock, block.Type)
	assert.Equal(t, 8, block.StartLine)
	assert.Equal(t, 10, block.EndLine)
	assert.Equal(t, "sh", block.Metadata.Language)
	assert.Contains(t, block.Content, "make install")
	assert.Equal(t, []string{"Guide", "Install"}, block.Metadata.HeadingPath)

	tail := chunks[3]
	assert.Equal(t, model.ChunkTypeSection, tail.Type)
	assert.Equal(t, 11, tail.StartLine)
	assert.Equal(t, 12, tail.EndLine)
	assert.Contains(t, tail.Content, "After fence text.")
}

func TestChunker_Markdown_BlankPiecesSkipped(t *testing.T) {
	in := markdownInput(t, "docs/snippet.md",
		"# Top",
		"```go",
		"x = 1",
		"```",
		"",
	)

	c := NewChunker(Options{})
	chunks, err := c.ChunkFile(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, chunks, 2, "blank tail after the fence produces nothing")

	assert.Equal(t, model.ChunkTypeSection, chunks[0].Type)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 1, chunks[0].EndLine)
	assert.Equal(t, model.ChunkTypeCodeBlock, chunks[1].Type)
	assert.Equal(t, "go", chunks[1].Metadata.Language)
	assert.Equal(t, 2, chunks[1].StartLine)
	assert.Equal(t, 4, chunks[1].EndLine)
}
