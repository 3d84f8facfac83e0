package ui

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cindex-dev/cindex/internal/index"
)

func TestPlainRenderer_Update_CountedEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Event{Stage: index.StageParse, Current: 50, Total: 100, Message: "src/main.go"})

	assert.Equal(t, "[PARSE] 50/100 src/main.go\n", buf.String())
}

func TestPlainRenderer_Update_CountOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Event{Stage: index.StageEmbed, Current: 3, Total: 10})

	assert.Equal(t, "[EMBED] 3/10\n", buf.String())
}

func TestPlainRenderer_Update_MessageOnly(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Event{Stage: index.StageDiscover, Message: "walking repository"})

	assert.Equal(t, "[SCAN] walking repository\n", buf.String())
}

func TestPlainRenderer_Update_SilentWithoutTotalOrMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Update(index.Event{Stage: index.StageDiscover, Current: 7})

	assert.Empty(t, buf.String())
}

func TestPlainRenderer_Complete_Summary(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(index.Stats{
		FilesIndexed:     42,
		ChunksCreated:    128,
		SymbolsExtracted: 64,
		Duration:         3 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "Indexed 42 files (128 chunks, 64 symbols)")
	assert.Contains(t, out, "3s")
	assert.NotContains(t, out, "Detected")
	assert.NotContains(t, out, "Errors")
}

func TestPlainRenderer_Complete_Topology(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(index.Stats{
		FilesIndexed:       10,
		WorkspacesDetected: 4,
		ServicesDetected:   2,
		EndpointsDetected:  17,
	})

	assert.Contains(t, buf.String(), "Detected 4 workspaces, 2 services, 17 endpoints")
}

func TestPlainRenderer_Complete_SkipsAndDeletes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(index.Stats{
		FilesIndexed: 1,
		FilesSkipped: 9,
		FilesDeleted: 2,
		Detector: index.DetectorStats{
			SecretsSkipped:   3,
			ArtifactsSkipped: 4,
			OversizeSkipped:  1,
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Skipped 9 files (artifacts 4, secrets 3, oversize 1)")
	assert.Contains(t, out, "Removed 2 deleted files")
}

func TestPlainRenderer_Complete_NoOp(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.Complete(index.Stats{NoOp: true, FilesIndexed: 42})

	out := buf.String()
	assert.Contains(t, out, "up to date")
	assert.NotContains(t, out, "Indexed 42")
}

func TestPlainRenderer_Complete_ErrorsTruncated(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	stats := index.Stats{FilesIndexed: 1}
	for i := 0; i < maxErrorLines+3; i++ {
		stats.Errors = append(stats.Errors, index.FileError{
			File:  fmt.Sprintf("src/f%02d.go", i),
			Stage: index.StageParse,
			Error: "boom",
		})
	}

	r.Complete(stats)

	out := buf.String()
	assert.Contains(t, out, fmt.Sprintf("Errors: %d", maxErrorLines+3))
	assert.Contains(t, out, "src/f00.go (parse): boom")
	assert.Contains(t, out, "... and 3 more")
	assert.Equal(t, maxErrorLines, strings.Count(out, "): boom"))
}

func TestPlainRenderer_StartAndStopAreNoOps(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	assert.NoError(t, r.Start(context.Background()))
	assert.NoError(t, r.Stop())
	assert.Empty(t, buf.String())
}
