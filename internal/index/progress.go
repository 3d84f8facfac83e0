package index

import (
	"sync"
	"time"
)

// Stage names appear verbatim in progress events and log lines; renderers
// and MCP clients key on them.
type Stage string

const (
	StageDiscover         Stage = "discover"
	StageParse            Stage = "parse"
	StageChunk            Stage = "chunk"
	StageSummarize        Stage = "summarize"
	StageEmbed            Stage = "embed"
	StageExtractSymbols   Stage = "extract_symbols"
	StageDetectWorkspaces Stage = "detect_workspaces"
	StageDetectServices   Stage = "detect_services"
	StagePersist          Stage = "persist"
)

// Event is one progress report. Total is 0 while the stage size is still
// unknown (discovery). ETASeconds is remaining * elapsed / processed and
// stays 0 until at least one item completed.
type Event struct {
	Stage      Stage   `json:"stage"`
	Current    int     `json:"current"`
	Total      int     `json:"total"`
	Message    string  `json:"message,omitempty"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
}

// ProgressFunc receives progress events. Calls arrive from multiple
// goroutines; implementations must be safe for concurrent use.
type ProgressFunc func(Event)

// defaultProgressInterval is the heartbeat spacing between forced emits.
const defaultProgressInterval = 5 * time.Second

// stageState tracks one stage's counters and throttle clock.
type stageState struct {
	current  int
	total    int
	started  time.Time
	lastEmit time.Time
}

// progressTracker fans progress out to a ProgressFunc. Stage begin and
// completion always emit; per-item advances throttle to the interval so a
// fast stage cannot flood the channel.
type progressTracker struct {
	emit     ProgressFunc
	interval time.Duration

	mu     sync.Mutex
	stages map[Stage]*stageState
}

func newProgressTracker(emit ProgressFunc, interval time.Duration) *progressTracker {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &progressTracker{
		emit:     emit,
		interval: interval,
		stages:   make(map[Stage]*stageState),
	}
}

// begin opens a stage with a known total (0 when unknown) and emits.
func (t *progressTracker) begin(stage Stage, total int, message string) {
	if t == nil || t.emit == nil {
		return
	}
	now := time.Now()
	t.mu.Lock()
	t.stages[stage] = &stageState{total: total, started: now, lastEmit: now}
	ev := t.eventLocked(stage, message)
	t.mu.Unlock()
	t.emit(ev)
}

// advance counts one completed item and emits when the throttle allows it
// or the stage just completed.
func (t *progressTracker) advance(stage Stage, message string) {
	t.add(stage, message, false)
}

// step counts one completed item and always emits. Used once per processed
// file so a consumer sees every file go by.
func (t *progressTracker) step(stage Stage, message string) {
	t.add(stage, message, true)
}

func (t *progressTracker) add(stage Stage, message string, force bool) {
	if t == nil || t.emit == nil {
		return
	}
	now := time.Now()
	t.mu.Lock()
	st := t.stages[stage]
	if st == nil {
		st = &stageState{started: now}
		t.stages[stage] = st
	}
	st.current++
	done := st.total > 0 && st.current >= st.total
	if !force && !done && now.Sub(st.lastEmit) < t.interval {
		t.mu.Unlock()
		return
	}
	st.lastEmit = now
	ev := t.eventLocked(stage, message)
	t.mu.Unlock()
	t.emit(ev)
}

// finish emits the stage's closing event with current pinned to total.
func (t *progressTracker) finish(stage Stage, message string) {
	if t == nil || t.emit == nil {
		return
	}
	t.mu.Lock()
	st := t.stages[stage]
	if st == nil {
		st = &stageState{started: time.Now()}
		t.stages[stage] = st
	}
	if st.total > 0 {
		st.current = st.total
	} else {
		st.total = st.current
	}
	st.lastEmit = time.Now()
	ev := t.eventLocked(stage, message)
	t.mu.Unlock()
	t.emit(ev)
}

func (t *progressTracker) eventLocked(stage Stage, message string) Event {
	st := t.stages[stage]
	ev := Event{
		Stage:   stage,
		Current: st.current,
		Total:   st.total,
		Message: message,
	}
	if st.current > 0 && st.total > st.current {
		elapsed := time.Since(st.started).Seconds()
		ev.ETASeconds = float64(st.total-st.current) * elapsed / float64(st.current)
	}
	return ev
}
