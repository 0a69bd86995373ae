// Package watch keeps a manager in step with directories of module files.
// New and changed files are loaded once they have been quiet for the
// debounce window; changed and removed files are unloaded first. A change
// is an unload followed by a fresh load, never an in-place reload.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pluginhost/internal/logging"
	"pluginhost/internal/manager"
	"pluginhost/pkg/plugin"
)

// Target is driven by the watcher. *manager.Manager implements it.
type Target interface {
	Load(path string) (plugin.Plugin, error)
	UnloadPath(path string, wait bool) error
}

var _ Target = (*manager.Manager)(nil)

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Loads         int
	Unloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a file must be quiet before it is acted on.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounceDur = d
		}
	}
}

// WithUnloadWait makes every unload wait for the module namespace to be reclaimed.
func WithUnloadWait(wait bool) Option {
	return func(w *Watcher) { w.unloadWait = wait }
}

// Watcher watches module directories for a Target.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	target      Target
	dirs        []string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	unloadWait  bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stopped     bool

	stats Stats
}

// New creates a watcher over dirs. Nothing is watched until Start.
func New(target Target, dirs []string, opts ...Option) (*Watcher, error) {
	if target == nil {
		return nil, errors.New("watch: nil target")
	}
	abs := make([]string, 0, len(dirs))
	for _, d := range dirs {
		a, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("watch: %w", err)
		}
		// Event paths must match the canonical paths the manager registers.
		if resolved, err := filepath.EvalSymlinks(a); err == nil {
			a = resolved
		}
		abs = append(abs, a)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:     fw,
		target:      target,
		dirs:        abs,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// isModuleFile reports whether path names a single-file module.
func isModuleFile(path string) bool {
	return strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go")
}

// Start loads the module files already present in the watched directories
// and then watches them in a goroutine until Stop or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		logging.Watch("watching directory: %s", dir)
	}

	for _, dir := range w.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			logging.WatchError("failed to scan %s: %v", dir, err)
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.Type().IsRegular() && isModuleFile(path) {
				w.load(path)
			}
		}
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.running = false
	w.stopped = true
	w.mu.Unlock()

	close(w.stopCh)
	if wasRunning {
		<-w.doneCh
	}

	if err := w.watcher.Close(); err != nil {
		logging.WatchError("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	debounceTicker := time.NewTicker(tick)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WatchError("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebouncedEvents()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isModuleFile(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Has(fsnotify.Create):
		eventType = "create"
	case event.Has(fsnotify.Write):
		eventType = "modify"
	case event.Has(fsnotify.Remove):
		eventType = "delete"
	case event.Has(fsnotify.Rename):
		eventType = "rename"
	default:
		return
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	case "delete", "rename":
		w.stats.FilesDeleted++
	}
	w.debounceMap[event.Name] = time.Now()
}

// processDebouncedEvents acts on files that have settled past the debounce window.
func (w *Watcher) processDebouncedEvents() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(settled)
	for _, path := range settled {
		w.sync(path)
	}
}

// sync brings the target in line with the file at path: whatever was
// loaded from it is unloaded, and the file is loaded again if it exists.
func (w *Watcher) sync(path string) {
	w.unload(path)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}
	w.load(path)
}

func (w *Watcher) load(path string) {
	p, err := w.target.Load(path)

	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
		w.mu.Unlock()
		logging.WatchError("failed to load %s: %v", path, err)
		return
	}
	w.stats.Loads++
	w.mu.Unlock()
	logging.Watch("loaded %s from %s", displayName(p), path)
}

// displayName calls into interpreted code, so a panicking Name must not
// take the watch loop down with it.
func displayName(p plugin.Plugin) (name string) {
	defer func() {
		if r := recover(); r != nil {
			name = "<unnamed>"
		}
	}()
	return p.Name()
}

func (w *Watcher) unload(path string) {
	err := w.target.UnloadPath(path, w.unloadWait)

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case errors.Is(err, manager.ErrNotFound):
	case err != nil:
		w.stats.Errors++
		w.stats.Unloads++
		logging.WatchError("unloaded %s with error: %v", path, err)
	default:
		w.stats.Unloads++
		logging.Watch("unloaded %s", path)
	}
}

// Stats returns a copy of the watcher statistics.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// IsWatching reports whether Start has run and Stop has not.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Dirs returns the watched directories.
func (w *Watcher) Dirs() []string {
	return append([]string(nil), w.dirs...)
}
