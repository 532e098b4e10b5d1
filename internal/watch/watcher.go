package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches module source trees and reports which module a filesystem
// event landed in. Paired with the detector's dirty tracking it turns the
// sampled full-tree rescan into a cheap no-op for untouched modules.
//
// Events are debounced per batch: editors produce bursts of writes and
// renames, and the consumer only cares that the module needs a rescan.
type Watcher struct {
	debounce time.Duration
	onDirty  func(moduleCode string)
	logger   *slog.Logger

	mu      sync.Mutex
	roots   map[string]string // module root dir -> module code
	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long to coalesce events before notifying.
// Default is 500ms.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// New creates a module tree watcher. onDirty is called once per module per
// event batch, from the watcher goroutine.
func New(onDirty func(moduleCode string), logger *slog.Logger, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		debounce: 500 * time.Millisecond,
		onDirty:  onDirty,
		logger:   logger,
		roots:    make(map[string]string),
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// AddModule registers a module root and watches its directory tree
// recursively. fsnotify watches are per-directory, so every subdirectory
// gets its own watch; directories created later are picked up from Create
// events.
func (w *Watcher) AddModule(code, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots[abs] = code
	w.mu.Unlock()

	return filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.watcher.Add(path)
	})
}

// Start begins delivering dirty notifications.
func (w *Watcher) Start() {
	w.logger.Info("Module watcher started", "modules", len(w.roots), "debounce", w.debounce)
	go w.watch()
}

// Stop stops watching and cleans up resources.
func (w *Watcher) Stop() error {
	w.cancel()
	return w.watcher.Close()
}

// watch is the main loop: accumulate dirty modules, flush after the
// debounce window closes.
func (w *Watcher) watch() {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := make(map[string]bool)

	for {
		select {
		case <-w.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Debug("Module watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				w.maybeWatchNewDir(event.Name)
			}

			if code := w.moduleFor(event.Name); code != "" {
				pending[code] = true
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			}

		case <-timerC:
			for code := range pending {
				w.logger.Debug("Module tree changed", "module", code)
				w.onDirty(code)
				delete(pending, code)
			}
			timerC = nil

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Module watcher error", "error", err)
		}
	}
}

// maybeWatchNewDir adds a watch for a freshly created directory.
func (w *Watcher) maybeWatchNewDir(path string) {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
	}
}

// moduleFor maps an event path to its module by longest matching root.
func (w *Watcher) moduleFor(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	candidates := make([]string, 0, len(w.roots))
	for root := range w.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			candidates = append(candidates, root)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	return w.roots[candidates[0]]
}
