package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cindex-dev/cindex/internal/index"
)

func TestStageRow_Fraction(t *testing.T) {
	tests := []struct {
		name string
		row  StageRow
		want float64
	}{
		{"half done", StageRow{Current: 50, Total: 100}, 0.5},
		{"complete", StageRow{Current: 100, Total: 100}, 1.0},
		{"overshoot clamps", StageRow{Current: 120, Total: 100}, 1.0},
		{"unknown total", StageRow{Current: 7, Total: 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.row.Fraction(), 1e-9)
		})
	}
}

func TestTracker_RowsInPipelineOrder(t *testing.T) {
	tr := NewTracker()

	// Events arrive out of pipeline order, as the worker pool interleaves them.
	tr.Observe(index.Event{Stage: index.StageEmbed, Current: 3, Total: 10})
	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 10, Total: 10})
	tr.Observe(index.Event{Stage: index.StageParse, Current: 5, Total: 10})

	rows := tr.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, index.StageDiscover, rows[0].Stage)
	assert.Equal(t, index.StageParse, rows[1].Stage)
	assert.Equal(t, index.StageEmbed, rows[2].Stage)
}

func TestTracker_RowStatus(t *testing.T) {
	tr := NewTracker()
	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 10, Total: 10})
	tr.Observe(index.Event{Stage: index.StageParse, Current: 5, Total: 10})

	rows := tr.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, StageDone, rows[0].Status)
	assert.Equal(t, StageActive, rows[1].Status)
}

func TestTracker_CurrentFile(t *testing.T) {
	tr := NewTracker()
	assert.Empty(t, tr.CurrentFile())

	tr.Observe(index.Event{Stage: index.StageParse, Current: 1, Total: 2, Message: "src/a.go"})
	assert.Equal(t, "src/a.go", tr.CurrentFile())

	// Events without a message keep the last one.
	tr.Observe(index.Event{Stage: index.StageParse, Current: 2, Total: 2})
	assert.Equal(t, "src/a.go", tr.CurrentFile())
}

func TestTracker_OverallFraction(t *testing.T) {
	tr := NewTracker()
	assert.Zero(t, tr.OverallFraction())

	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 10, Total: 10})
	tr.Observe(index.Event{Stage: index.StageParse, Current: 0, Total: 10})
	// Unknown totals are excluded from the aggregate.
	tr.Observe(index.Event{Stage: index.StageEmbed, Current: 4, Total: 0})

	assert.InDelta(t, 0.5, tr.OverallFraction(), 1e-9)
}

func TestTracker_SpeedSampling(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	// First heartbeat event only seeds the sample window.
	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 0, Total: 100})
	assert.Zero(t, tr.Speed().Current)

	now = now.Add(time.Second)
	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 20, Total: 100})

	speed := tr.Speed()
	assert.InDelta(t, 20.0, speed.Current, 0.5)
	assert.InDelta(t, 20.0, speed.Average, 0.5)
	assert.InDelta(t, 20.0, speed.Peak, 0.5)
}

func TestTracker_SpeedIgnoresSubWindowSamples(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 0, Total: 100})
	now = now.Add(100 * time.Millisecond)
	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 50, Total: 100})

	assert.Zero(t, tr.Speed().Current, "samples inside the window must not register")
}

func TestTracker_HeartbeatPrecedence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	// Discovery drives the heartbeat first.
	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 0, Total: 0})
	// Symbol extraction takes over once per-file processing starts.
	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 0, Total: 50})

	now = now.Add(time.Second)
	// Further discovery events no longer feed the speed estimate.
	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 500, Total: 500})
	assert.Zero(t, tr.Speed().Current)

	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 10, Total: 50})
	assert.InDelta(t, 10.0, tr.Speed().Current, 0.5)
}

func TestTracker_ETASmoothing(t *testing.T) {
	tr := NewTracker()

	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 1, Total: 10, ETASeconds: 100})
	assert.Equal(t, 100*time.Second, tr.ETA())

	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 2, Total: 10, ETASeconds: 50})
	eta := tr.ETA()
	assert.Less(t, eta, 100*time.Second)
	assert.Greater(t, eta, 50*time.Second)
}

func TestTracker_ETAIgnoresNonHeartbeatStages(t *testing.T) {
	tr := NewTracker()
	tr.Observe(index.Event{Stage: index.StageExtractSymbols, Current: 1, Total: 10})

	tr.Observe(index.Event{Stage: index.StageParse, Current: 1, Total: 10, ETASeconds: 42})
	assert.Zero(t, tr.ETA())
}

func TestTracker_Elapsed(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker()
	tr.now = func() time.Time { return now }

	assert.Zero(t, tr.Elapsed())

	tr.Observe(index.Event{Stage: index.StageDiscover, Current: 1})
	now = now.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, tr.Elapsed())
}

func TestSparkline_AddAndValues(t *testing.T) {
	s := NewSparkline(3)
	assert.Zero(t, s.Count())
	assert.Empty(t, s.Values())

	s.Add(1)
	s.Add(2)
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, []float64{1, 2}, s.Values())

	s.Add(3)
	s.Add(4) // evicts the oldest
	assert.Equal(t, 3, s.Count())
	assert.Equal(t, []float64{2, 3, 4}, s.Values())
}

func TestSparkline_NegativeSamplesClampToZero(t *testing.T) {
	s := NewSparkline(2)
	s.Add(-5)
	assert.Equal(t, []float64{0}, s.Values())
}

func TestSparkline_Render(t *testing.T) {
	s := NewSparkline(10)
	assert.Empty(t, s.Render(10), "no samples renders nothing")

	s.Add(0)
	s.Add(5)
	s.Add(10)

	out := []rune(s.Render(10))
	require.Len(t, out, 3)
	assert.Equal(t, sparklineRunes[0], out[0])
	assert.Equal(t, sparklineRunes[len(sparklineRunes)-1], out[2])
}

func TestSparkline_RenderTruncatesToWidth(t *testing.T) {
	s := NewSparkline(10)
	for i := 0; i < 8; i++ {
		s.Add(float64(i))
	}

	out := []rune(s.Render(4))
	assert.Len(t, out, 4)
}

func TestSparkline_RenderAllZeroes(t *testing.T) {
	s := NewSparkline(4)
	s.Add(0)
	s.Add(0)

	out := []rune(s.Render(10))
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Equal(t, sparklineRunes[0], r)
	}
}
