// Package watcher observes a repository root for filesystem changes and
// emits debounced re-index triggers.
//
// Indexing is hash-incremental: a run re-discovers the tree and skips
// unchanged files, so the watcher does not need per-file event fidelity.
// It coalesces bursts of fsnotify events into a single trigger once the
// tree has been quiet for the debounce window, and flags .gitignore edits
// so the consumer can invalidate cached matchers before re-scanning.
package watcher
