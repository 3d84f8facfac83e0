package ui

import (
	"strings"
	"sync"
	"time"

	"github.com/cindex-dev/cindex/internal/index"
)

const (
	// speedWindow is the minimum spacing between speed samples.
	speedWindow = 500 * time.Millisecond

	// speedSmoothing weights new samples in the rolling average.
	speedSmoothing = 0.2

	// etaSmoothing weights new pipeline ETA reports.
	etaSmoothing = 0.3

	// sparklineCapacity bounds the speed history ring.
	sparklineCapacity = 60
)

// StageStatus describes one pipeline stage's lifecycle in the display.
type StageStatus int

const (
	StagePending StageStatus = iota
	StageActive
	StageDone
)

// StageRow is a point-in-time snapshot of one pipeline stage.
type StageRow struct {
	Stage   index.Stage
	Label   string
	Current int
	Total   int
	Status  StageStatus
}

// Fraction returns completion in [0, 1]. Stages with an unknown total
// report 0.
func (r StageRow) Fraction() float64 {
	if r.Total <= 0 {
		return 0
	}
	f := float64(r.Current) / float64(r.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// SpeedStats holds throughput measurements in files per second.
type SpeedStats struct {
	Current float64
	Average float64
	Peak    float64
}

// heartbeatPrecedence picks the stage whose events drive speed and ETA.
// Per-file stages interleave across the worker pool and most advances are
// throttled, so the tracker follows the one per-file signal that always
// emits: symbol extraction on code runs, embedding on documentation runs.
// A stage takes over from a lower-precedence one as the run moves through
// its phases.
var heartbeatPrecedence = map[index.Stage]int{
	index.StageDiscover:       1,
	index.StageEmbed:          2,
	index.StageExtractSymbols: 3,
	index.StagePersist:        4,
}

// Tracker aggregates interleaved pipeline events into per-stage rows plus
// speed and ETA estimates. Events arrive from multiple worker goroutines.
type Tracker struct {
	mu  sync.Mutex
	now func() time.Time

	started     time.Time
	rows        map[index.Stage]*trackedStage
	lastMessage string

	heartbeat       index.Stage
	lastSampleAt    time.Time
	lastSampleCount int
	speed           float64
	avgSpeed        float64
	peakSpeed       float64
	samples         int
	spark           *Sparkline
	eta             time.Duration
}

type trackedStage struct {
	current int
	total   int
}

// NewTracker returns an empty tracker. The elapsed clock starts on the
// first event.
func NewTracker() *Tracker {
	return &Tracker{
		now:   time.Now,
		rows:  make(map[index.Stage]*trackedStage),
		spark: NewSparkline(sparklineCapacity),
	}
}

// Observe folds one pipeline event into the tracker.
func (t *Tracker) Observe(ev index.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started.IsZero() {
		t.started = t.now()
	}
	row := t.rows[ev.Stage]
	if row == nil {
		row = &trackedStage{}
		t.rows[ev.Stage] = row
	}
	row.current = ev.Current
	row.total = ev.Total
	if ev.Message != "" {
		t.lastMessage = ev.Message
	}

	t.observeSpeedLocked(ev)
	t.observeETALocked(ev)
}

func (t *Tracker) observeSpeedLocked(ev index.Event) {
	p := heartbeatPrecedence[ev.Stage]
	if p == 0 {
		return
	}
	if p > heartbeatPrecedence[t.heartbeat] {
		t.heartbeat = ev.Stage
		t.lastSampleAt = t.now()
		t.lastSampleCount = ev.Current
		return
	}
	if ev.Stage != t.heartbeat {
		return
	}

	now := t.now()
	elapsed := now.Sub(t.lastSampleAt)
	if elapsed < speedWindow {
		return
	}
	delta := ev.Current - t.lastSampleCount
	if delta < 0 {
		delta = 0
	}
	rate := float64(delta) / elapsed.Seconds()

	t.speed = rate
	t.samples++
	if t.samples == 1 {
		t.avgSpeed = rate
	} else {
		t.avgSpeed = speedSmoothing*rate + (1-speedSmoothing)*t.avgSpeed
	}
	if rate > t.peakSpeed {
		t.peakSpeed = rate
	}
	t.spark.Add(rate)
	t.lastSampleAt = now
	t.lastSampleCount = ev.Current
}

func (t *Tracker) observeETALocked(ev index.Event) {
	if ev.ETASeconds <= 0 || ev.Stage != t.heartbeat {
		return
	}
	eta := time.Duration(ev.ETASeconds * float64(time.Second))
	if t.eta == 0 {
		t.eta = eta
		return
	}
	t.eta = time.Duration(etaSmoothing*float64(eta) + (1-etaSmoothing)*float64(t.eta))
}

// Rows returns the stages seen so far in pipeline order.
func (t *Tracker) Rows() []StageRow {
	t.mu.Lock()
	defer t.mu.Unlock()

	rows := make([]StageRow, 0, len(t.rows))
	for _, st := range pipelineStages {
		tracked := t.rows[st]
		if tracked == nil {
			continue
		}
		row := StageRow{
			Stage:   st,
			Label:   stageLabel(st),
			Current: tracked.current,
			Total:   tracked.total,
			Status:  StageActive,
		}
		if tracked.total > 0 && tracked.current >= tracked.total {
			row.Status = StageDone
		}
		rows = append(rows, row)
	}
	return rows
}

// CurrentFile returns the path or message from the most recent event that
// carried one.
func (t *Tracker) CurrentFile() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastMessage
}

// Speed returns the current throughput measurements.
func (t *Tracker) Speed() SpeedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return SpeedStats{Current: t.speed, Average: t.avgSpeed, Peak: t.peakSpeed}
}

// ETA returns the smoothed remaining-time estimate, 0 when unknown.
func (t *Tracker) ETA() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.eta
}

// Elapsed returns time since the first event, 0 before any event.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return t.now().Sub(t.started)
}

// OverallFraction returns aggregate completion in [0, 1] across all stages
// with a known total.
func (t *Tracker) OverallFraction() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var done, total int
	for _, tracked := range t.rows {
		if tracked.total <= 0 {
			continue
		}
		cur := tracked.current
		if cur > tracked.total {
			cur = tracked.total
		}
		done += cur
		total += tracked.total
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total)
}

// RenderSparkline renders the speed history at most width runes wide.
func (t *Tracker) RenderSparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spark.Render(width)
}

// sparklineRunes map normalized sample values to block heights.
var sparklineRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline is a fixed-capacity ring of throughput samples rendered as
// Unicode block characters.
type Sparkline struct {
	samples []float64
	next    int
	full    bool
}

// NewSparkline returns a ring holding up to capacity samples.
func NewSparkline(capacity int) *Sparkline {
	if capacity <= 0 {
		capacity = sparklineCapacity
	}
	return &Sparkline{samples: make([]float64, capacity)}
}

// Add appends a sample, evicting the oldest once full.
func (s *Sparkline) Add(v float64) {
	if v < 0 {
		v = 0
	}
	s.samples[s.next] = v
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.full = true
	}
}

// Values returns the samples oldest first.
func (s *Sparkline) Values() []float64 {
	if !s.full {
		out := make([]float64, s.next)
		copy(out, s.samples[:s.next])
		return out
	}
	out := make([]float64, 0, len(s.samples))
	out = append(out, s.samples[s.next:]...)
	out = append(out, s.samples[:s.next]...)
	return out
}

// Count returns the number of stored samples.
func (s *Sparkline) Count() int {
	if s.full {
		return len(s.samples)
	}
	return s.next
}

// Render draws the newest samples scaled against their maximum, at most
// width runes wide. Returns "" when no samples exist.
func (s *Sparkline) Render(width int) string {
	values := s.Values()
	if len(values) == 0 || width <= 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}

	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return strings.Repeat(string(sparklineRunes[0]), len(values))
	}

	var b strings.Builder
	for _, v := range values {
		idx := int(v / max * float64(len(sparklineRunes)-1))
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sparklineRunes) {
			idx = len(sparklineRunes) - 1
		}
		b.WriteRune(sparklineRunes[idx])
	}
	return b.String()
}
