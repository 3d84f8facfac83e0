package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) (*Watcher, string) {
	t.Helper()
	root := t.TempDir()

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), root))
	t.Cleanup(func() { _ = w.Stop() })

	return w, root
}

func waitTrigger(t *testing.T, w *Watcher) Trigger {
	t.Helper()
	select {
	case tr, ok := <-w.Triggers():
		require.True(t, ok, "trigger channel closed")
		return tr
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger within deadline")
		return Trigger{}
	}
}

func TestWatcher_FileWriteTriggers(t *testing.T) {
	w, root := newTestWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0o644))

	tr := waitTrigger(t, w)
	assert.GreaterOrEqual(t, tr.Events, 1)
	assert.Contains(t, tr.Paths, "main.go")
	assert.False(t, tr.GitignoreChanged)
}

func TestWatcher_BurstYieldsOneTrigger(t *testing.T) {
	w, root := newTestWatcher(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte{byte('0' + i)}, 0o644))
	}

	tr := waitTrigger(t, w)
	assert.GreaterOrEqual(t, tr.Events, 2)

	select {
	case tr2 := <-w.Triggers():
		t.Fatalf("unexpected second trigger: %+v", tr2)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	w, root := newTestWatcher(t)

	sub := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o755))
	waitTrigger(t, w) // mkdir itself

	// The freshly created directory must already be registered.
	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.go"), []byte("package pkg\n"), 0o644))

	tr := waitTrigger(t, w)
	assert.Contains(t, tr.Paths, "pkg/util.go")
}

func TestWatcher_IgnoredDirectoryIsPruned(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules"), 0o755))

	w, err := New(Options{DebounceWindow: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background(), root))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0o644))

	select {
	case tr := <-w.Triggers():
		t.Fatalf("trigger from ignored tree: %+v", tr)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_GitignoreChangeFlagged(t *testing.T) {
	w, root := newTestWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".gitignore"), []byte("dist/\n"), 0o644))

	tr := waitTrigger(t, w)
	assert.True(t, tr.GitignoreChanged)
}

func TestWatcher_StopClosesChannels(t *testing.T) {
	w, _ := newTestWatcher(t)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop()) // idempotent

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-w.Triggers():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("trigger channel not closed after Stop")
		}
	}
}

func TestWatcher_StartWithoutRootFails(t *testing.T) {
	w, err := New(Options{}, nil)
	require.NoError(t, err)
	defer w.Stop()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
