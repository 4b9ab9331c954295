// Package watcher turns raw filesystem notifications into attributed,
// exclusion-filtered "this backup set changed" signals.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/cuemby/backupd/internal/backup"
)

// ChangeHandler is invoked once per attributed, non-excluded filesystem
// event, named after the backup set it belongs to.
type ChangeHandler func(setName string)

// Watcher attributes fsnotify events to backup sets by longest matching
// watched root, and filters them against each set's exclusion globs.
type Watcher struct {
	fs    *fsnotify.Watcher
	log   zerolog.Logger
	roots map[string]string   // watched root path -> set name
	excl  map[string][]string // set name -> exclude patterns
	onHit ChangeHandler
	done  chan struct{}
}

// New builds a Watcher for the given sets and starts watching every source
// path that currently exists (nonexistent paths are logged and skipped,
// not fatal — a set may point at a not-yet-mounted external drive).
func New(sets []*backup.Set, log zerolog.Logger, onHit ChangeHandler) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		fs:    fsw,
		log:   log.With().Str("component", "watcher").Logger(),
		roots: make(map[string]string),
		excl:  make(map[string][]string),
		onHit: onHit,
		done:  make(chan struct{}),
	}

	for _, set := range sets {
		w.excl[set.Name] = set.Exclude
		for _, src := range set.SourcePaths {
			w.roots[src] = set.Name
		}
	}

	for root := range w.roots {
		if _, err := os.Stat(root); err != nil {
			w.log.Warn().Str("path", root).Msg("source path does not exist, skipping")
			continue
		}
		if err := w.addRecursive(root); err != nil {
			w.log.Error().Err(err).Str("path", root).Msg("failed to watch path")
		}
	}

	go w.run()
	return w, nil
}

// addRecursive registers root and every subdirectory under it, since
// fsnotify watches are not recursive on Linux.
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if werr := w.fs.Add(path); werr != nil {
				w.log.Warn().Err(werr).Str("path", path).Msg("failed to watch directory")
			}
		}
		return nil
	})
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("watch error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		// A new directory appearing under a watched root needs its own
		// watch registered so files created inside it are seen too.
		if event.Op&fsnotify.Create != 0 {
			if root, _ := w.findRoot(path); root != "" {
				if err := w.fs.Add(path); err != nil {
					w.log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
				}
			}
		}
		return
	}

	root, setName := w.findRoot(path)
	if setName == "" {
		return
	}

	if w.isExcluded(setName, root, path) {
		return
	}

	w.onHit(setName)
}

// findRoot returns the watched root (and its set name) containing path,
// matching by absolute-path prefix; of nested roots the longest wins.
func (w *Watcher) findRoot(path string) (root, setName string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	best := -1
	for r, name := range w.roots {
		rootAbs, err := filepath.Abs(r)
		if err != nil {
			rootAbs = r
		}
		if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			if len(rootAbs) > best {
				best = len(rootAbs)
				root, setName = r, name
			}
		}
	}
	return root, setName
}

// isExcluded checks path against setName's exclusion patterns, matching
// against the full path, its basename, and its path relative to root (the
// three forms a shell glob like "*.tmp" or "node_modules/*" might target).
func (w *Watcher) isExcluded(setName, root, path string) bool {
	patterns := w.excl[setName]
	if len(patterns) == 0 {
		return false
	}

	base := filepath.Base(path)
	rel, relErr := filepath.Rel(root, path)

	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, path); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
		if relErr == nil {
			if matched, _ := filepath.Match(pattern, rel); matched {
				return true
			}
		}
	}
	return false
}

// Close stops the watcher and releases its underlying file descriptors.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
