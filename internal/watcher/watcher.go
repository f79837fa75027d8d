// Package watcher provides recursive file watching with settling on top of fsnotify
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/utils"
)

// EventType classifies a settled change
type EventType string

const (
	FileCreated  EventType = "created"
	FileModified EventType = "modified"
	FileDeleted  EventType = "deleted"
	FileRenamed  EventType = "renamed"
)

// FileEvent is one settled change below the watched root
type FileEvent struct {
	Path    string // absolute
	Rel     string // slash separated, relative to the root
	Type    EventType
	IsDir   bool
	ModTime time.Time
}

// Options tune a Watcher
type Options struct {
	// Settling is how long a path must stay quiet before its event is delivered
	Settling time.Duration
	// Exclude holds exclusion patterns; patterns without a slash apply at any depth
	Exclude []string
	// IgnoreDirs are root-relative directories skipped with everything below them
	IgnoreDirs []string
}

type pendingEvent struct {
	at time.Time
	op fsnotify.Op
}

// Watcher watches a directory tree. New directories are picked up as they appear.
type Watcher struct {
	root       string
	watcher    *fsnotify.Watcher
	logger     logger.Logger
	exclusions *utils.ExclusionMatcher
	ignore     []string
	settling   time.Duration

	mu      sync.Mutex
	pending map[string]pendingEvent
	timers  map[*time.Timer]struct{}
	closed  bool
}

// New creates a watcher over root and registers every directory below it
func New(root string, opts Options, log logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Discard()
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	exclusions, err := utils.NewExclusionMatcher(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclusion pattern: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	ignore := make([]string, 0, len(opts.IgnoreDirs))
	for _, dir := range opts.IgnoreDirs {
		if dir = utils.NormalizePattern(dir); dir != "" && dir != "." {
			ignore = append(ignore, dir)
		}
	}

	w := &Watcher{
		root:       root,
		watcher:    fw,
		logger:     log,
		exclusions: exclusions,
		ignore:     ignore,
		settling:   opts.Settling,
		pending:    make(map[string]pendingEvent),
		timers:     make(map[*time.Timer]struct{}),
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	return w, nil
}

// Root returns the absolute watched root
func (w *Watcher) Root() string {
	return w.root
}

// WatchList returns every directory currently registered
func (w *Watcher) WatchList() []string {
	return w.watcher.WatchList()
}

// Run delivers settled events to handle until ctx is done. handle may be
// called from several goroutines and must not block for long.
func (w *Watcher) Run(ctx context.Context, handle func(FileEvent)) error {
	w.logger.Info(fmt.Sprintf("Watching %s (%d directories)", w.root, len(w.watcher.WatchList())))
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			rel, ok := w.rel(event.Name)
			if !ok || w.excluded(rel) {
				continue
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory",
							logger.WithField("path", rel),
							logger.WithError(err))
					}
					w.seed(event.Name, handle)
					continue
				}
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			w.settle(event, handle)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", logger.WithError(err))
		}
	}
}

// Close stops pending timers and releases the fsnotify handle
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for t := range w.timers {
		t.Stop()
	}
	w.timers = nil
	w.mu.Unlock()
	return w.watcher.Close()
}

// settle delivers an event once its path has been quiet for the settling delay
func (w *Watcher) settle(event fsnotify.Event, handle func(FileEvent)) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	prev := w.pending[event.Name]
	w.pending[event.Name] = pendingEvent{at: time.Now(), op: prev.op | event.Op}
	delay := w.settling

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, t)
		p, exists := w.pending[event.Name]
		if w.closed || !exists || time.Since(p.at) < delay {
			// a newer event for the same path owns delivery
			w.mu.Unlock()
			return
		}
		delete(w.pending, event.Name)
		w.mu.Unlock()

		handle(w.convert(event.Name, p.op))
	})
	w.timers[t] = struct{}{}
	w.mu.Unlock()
}

func (w *Watcher) convert(path string, op fsnotify.Op) FileEvent {
	rel, _ := w.rel(path)
	ev := FileEvent{Path: path, Rel: rel}

	switch {
	case op&fsnotify.Create == fsnotify.Create:
		ev.Type = FileCreated
	case op&fsnotify.Write == fsnotify.Write:
		ev.Type = FileModified
	case op&fsnotify.Remove == fsnotify.Remove:
		ev.Type = FileDeleted
	case op&fsnotify.Rename == fsnotify.Rename:
		ev.Type = FileRenamed
	default:
		ev.Type = FileModified
	}

	if info, err := os.Stat(path); err == nil {
		ev.IsDir = info.IsDir()
		ev.ModTime = info.ModTime()
	} else {
		// gone by the time it settled
		ev.Type = FileDeleted
	}
	return ev
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("Skipping unreadable path", logger.WithField("path", path), logger.WithError(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel, ok := w.rel(path); ok && rel != "." && w.excluded(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		}
		return nil
	})
}

// seed reports files that landed in a new directory before it was watched
func (w *Watcher) seed(dir string, handle func(FileEvent)) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.rel(path)
		if !ok || w.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			w.settle(fsnotify.Event{Name: path, Op: fsnotify.Create}, handle)
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) excluded(rel string) bool {
	for _, dir := range w.ignore {
		if rel == dir || strings.HasPrefix(rel, dir+"/") {
			return true
		}
	}
	return w.exclusions.IsExcluded(rel)
}
