package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressTracker_BeginAlwaysEmits(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Hour)

	tr.begin(StageDiscover, 0, "/repo")
	tr.begin(StageParse, 12, "")

	discover := log.byStage(StageDiscover)
	require.Len(t, discover, 1)
	assert.Equal(t, 0, discover[0].Current)
	assert.Equal(t, 0, discover[0].Total)
	assert.Equal(t, "/repo", discover[0].Message)

	parse := log.byStage(StageParse)
	require.Len(t, parse, 1)
	assert.Equal(t, 12, parse[0].Total)
}

func TestProgressTracker_AdvanceThrottles(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Hour)

	tr.begin(StageChunk, 10, "")
	for i := 0; i < 5; i++ {
		tr.advance(StageChunk, "file")
	}

	// Only the begin event: the interval never elapsed and the stage never
	// completed.
	assert.Len(t, log.byStage(StageChunk), 1)
}

func TestProgressTracker_AdvanceEmitsOnCompletion(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Hour)

	tr.begin(StageChunk, 3, "")
	tr.advance(StageChunk, "a")
	tr.advance(StageChunk, "b")
	tr.advance(StageChunk, "c")

	events := log.byStage(StageChunk)
	require.Len(t, events, 2, "begin plus the completing advance")
	last := events[len(events)-1]
	assert.Equal(t, 3, last.Current)
	assert.Equal(t, 3, last.Total)
	assert.Zero(t, last.ETASeconds)
}

func TestProgressTracker_StepAlwaysEmits(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Hour)

	tr.begin(StageExtractSymbols, 4, "")
	for _, f := range []string{"a.go", "b.go", "c.go", "d.go"} {
		tr.step(StageExtractSymbols, f)
	}

	events := log.byStage(StageExtractSymbols)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, i, ev.Current)
	}
	assert.Equal(t, "d.go", events[4].Message)
}

func TestProgressTracker_ETAWhileInProgress(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Nanosecond)

	tr.begin(StageEmbed, 4, "")
	time.Sleep(2 * time.Millisecond)
	tr.advance(StageEmbed, "a")

	events := log.byStage(StageEmbed)
	require.Len(t, events, 2)
	assert.Zero(t, events[0].ETASeconds, "no estimate before the first item")
	assert.Greater(t, events[1].ETASeconds, 0.0)
}

func TestProgressTracker_FinishPinsCounters(t *testing.T) {
	log := &eventLog{}
	tr := newProgressTracker(log.record, time.Hour)

	// Known total, partially advanced.
	tr.begin(StagePersist, 5, "")
	tr.advance(StagePersist, "a")
	tr.finish(StagePersist, "committed")
	events := log.byStage(StagePersist)
	last := events[len(events)-1]
	assert.Equal(t, 5, last.Current)
	assert.Equal(t, 5, last.Total)
	assert.Equal(t, "committed", last.Message)

	// Unknown total adopts the observed count.
	tr.begin(StageDiscover, 0, "")
	tr.advance(StageDiscover, "a")
	tr.advance(StageDiscover, "b")
	tr.finish(StageDiscover, "2 files")
	events = log.byStage(StageDiscover)
	last = events[len(events)-1]
	assert.Equal(t, 2, last.Current)
	assert.Equal(t, 2, last.Total)
}

func TestProgressTracker_NilSafe(t *testing.T) {
	var tr *progressTracker
	tr.begin(StageParse, 1, "")
	tr.advance(StageParse, "")
	tr.step(StageParse, "")
	tr.finish(StageParse, "")

	silent := newProgressTracker(nil, 0)
	silent.begin(StageParse, 1, "")
	silent.advance(StageParse, "")
	silent.finish(StageParse, "")
}
