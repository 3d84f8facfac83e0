package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/cindex-dev/cindex/internal/scanner"
)

// Watcher observes one repository root. Fsnotify is not recursive, so every
// directory under the root is registered individually and directories that
// appear later are added as their create events arrive.
type Watcher struct {
	opts     Options
	logger   *slog.Logger
	fs       *fsnotify.Watcher
	debounce *debouncer

	root string

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	errs chan error
}

// New creates a watcher. Start must be called before triggers flow.
func New(opts Options, logger *slog.Logger) (*Watcher, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		opts:     opts,
		logger:   logger.With("component", "watcher"),
		fs:       fsw,
		debounce: newDebouncer(opts.DebounceWindow, opts.MaxTriggerPaths),
		stop:     make(chan struct{}),
		errs:     make(chan error, 8),
	}, nil
}

// Start registers the directory tree and begins translating events. It
// returns once the initial registration is complete; triggers are delivered
// on Triggers until Stop or context cancellation.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.root = abs
	w.done = make(chan struct{})
	w.mu.Unlock()

	if err := w.addTree(abs); err != nil {
		w.mu.Lock()
		w.started = false
		w.done = nil
		w.mu.Unlock()
		return err
	}

	go w.loop(ctx)
	return nil
}

// Triggers returns the debounced trigger channel. Closed when the watcher
// stops.
func (w *Watcher) Triggers() <-chan Trigger {
	return w.debounce.out
}

// Errors returns non-fatal watcher errors. The watcher keeps running past
// them.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Stop tears the watcher down. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stop)
	started := w.started
	done := w.done
	w.mu.Unlock()

	err := w.fs.Close()
	if started && done != nil {
		<-done
	} else {
		w.debounce.close()
		close(w.errs)
	}
	return err
}

// addTree registers root and every non-ignored directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if path == root {
				return err
			}
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && scanner.IgnoredDir(d.Name()) {
			return fs.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.reportErr(err)
		}
		return nil
	})
}

// loop translates raw fsnotify events into debounced triggers.
func (w *Watcher) loop(ctx context.Context) {
	defer func() {
		w.debounce.close()
		close(w.errs)
		close(w.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.reportErr(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if scanner.IgnoredDir(name) {
		return
	}
	// Chmod-only events carry no content change worth re-indexing.
	if ev.Op == fsnotify.Chmod {
		return
	}

	// New directories must be registered before events inside them occur.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Lstat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.reportErr(err)
			}
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		rel = ev.Name
	}
	rel = filepath.ToSlash(rel)

	w.debounce.observe(rel, isGitignore(name))
}

func (w *Watcher) reportErr(err error) {
	select {
	case w.errs <- err:
	default:
		w.logger.Warn("watch error dropped", slog.String("error", err.Error()))
	}
}

func isGitignore(name string) bool {
	return name == ".gitignore" || strings.HasSuffix(name, string(filepath.Separator)+".gitignore")
}
