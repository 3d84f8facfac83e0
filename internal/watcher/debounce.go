package watcher

import (
	"sync"
	"time"
)

const (
	// defaultDebounceWindow is how long the tree must stay quiet before a
	// trigger fires. Long enough to ride out editor save storms and git
	// checkouts.
	defaultDebounceWindow = 2 * time.Second

	// defaultMaxTriggerPaths caps the changed-path sample on a trigger.
	// Re-indexing re-discovers the tree anyway; the sample is for logs.
	defaultMaxTriggerPaths = 32
)

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is the quiet period before a trigger is emitted.
	DebounceWindow time.Duration

	// MaxTriggerPaths caps Trigger.Paths.
	MaxTriggerPaths int
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaultDebounceWindow
	}
	if o.MaxTriggerPaths <= 0 {
		o.MaxTriggerPaths = defaultMaxTriggerPaths
	}
	return o
}

// Trigger is one debounced change notification. Paths is a bounded sample
// of what changed; Events counts every coalesced event.
type Trigger struct {
	Paths            []string
	Events           int
	GitignoreChanged bool
}

// debouncer coalesces observed paths until the window elapses with no new
// observations, then emits one Trigger.
type debouncer struct {
	window   time.Duration
	maxPaths int
	out      chan Trigger

	mu        sync.Mutex
	paths     map[string]bool
	events    int
	gitignore bool
	timer     *time.Timer
	closed    bool
}

func newDebouncer(window time.Duration, maxPaths int) *debouncer {
	return &debouncer{
		window:   window,
		maxPaths: maxPaths,
		out:      make(chan Trigger, 4),
		paths:    make(map[string]bool),
	}
}

// observe records one changed path and restarts the quiet window.
func (d *debouncer) observe(path string, gitignore bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.events++
	d.gitignore = d.gitignore || gitignore
	if len(d.paths) < d.maxPaths {
		d.paths[path] = true
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.flush)
	} else {
		d.timer.Reset(d.window)
	}
}

// flush emits the pending trigger. Runs on the timer goroutine.
func (d *debouncer) flush() {
	d.mu.Lock()
	if d.closed || d.events == 0 {
		d.mu.Unlock()
		return
	}
	tr := Trigger{
		Paths:            make([]string, 0, len(d.paths)),
		Events:           d.events,
		GitignoreChanged: d.gitignore,
	}
	for p := range d.paths {
		tr.Paths = append(tr.Paths, p)
	}
	d.paths = make(map[string]bool)
	d.events = 0
	d.gitignore = false
	d.mu.Unlock()

	// A consumer that stopped reading loses the trigger; the next change
	// schedules another.
	select {
	case d.out <- tr:
	default:
	}
}

// close drops pending state and closes the output channel.
func (d *debouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
