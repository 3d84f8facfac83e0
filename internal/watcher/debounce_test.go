package watcher

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Trigger, within time.Duration) Trigger {
	t.Helper()
	select {
	case tr, ok := <-ch:
		require.True(t, ok, "trigger channel closed")
		return tr
	case <-time.After(within):
		t.Fatal("no trigger within deadline")
		return Trigger{}
	}
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	d := newDebouncer(30*time.Millisecond, 32)
	defer d.close()

	d.observe("a.go", false)
	d.observe("b.go", false)
	d.observe("a.go", false)

	tr := collect(t, d.out, time.Second)
	assert.Equal(t, 3, tr.Events)
	sort.Strings(tr.Paths)
	assert.Equal(t, []string{"a.go", "b.go"}, tr.Paths)
	assert.False(t, tr.GitignoreChanged)
}

func TestDebouncer_WindowRestartsOnActivity(t *testing.T) {
	d := newDebouncer(80*time.Millisecond, 32)
	defer d.close()

	d.observe("a.go", false)
	time.Sleep(40 * time.Millisecond)
	d.observe("b.go", false)

	select {
	case <-d.out:
		t.Fatal("trigger fired before the tree went quiet")
	case <-time.After(60 * time.Millisecond):
	}

	tr := collect(t, d.out, time.Second)
	assert.Equal(t, 2, tr.Events)
}

func TestDebouncer_GitignoreFlagSticksForOneTrigger(t *testing.T) {
	d := newDebouncer(20*time.Millisecond, 32)
	defer d.close()

	d.observe(".gitignore", true)
	tr := collect(t, d.out, time.Second)
	assert.True(t, tr.GitignoreChanged)

	d.observe("main.go", false)
	tr = collect(t, d.out, time.Second)
	assert.False(t, tr.GitignoreChanged, "flag must reset between triggers")
}

func TestDebouncer_PathSampleIsBounded(t *testing.T) {
	d := newDebouncer(20*time.Millisecond, 2)
	defer d.close()

	d.observe("a.go", false)
	d.observe("b.go", false)
	d.observe("c.go", false)

	tr := collect(t, d.out, time.Second)
	assert.Equal(t, 3, tr.Events, "every event counts")
	assert.Len(t, tr.Paths, 2, "path sample is capped")
}

func TestDebouncer_CloseStopsEmission(t *testing.T) {
	d := newDebouncer(10*time.Millisecond, 32)

	d.observe("a.go", false)
	d.close()

	// Pending timer may still fire; the closed debouncer must not panic or
	// emit.
	time.Sleep(30 * time.Millisecond)
	_, ok := <-d.out
	assert.False(t, ok, "output closed without a trigger")

	d.observe("b.go", false) // no-op after close
	d.close()                // idempotent
}
