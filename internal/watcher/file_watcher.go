// Package watcher turns filesystem notifications into debounced batches of
// changed source files.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce is the quiet period before a batch is delivered.
const DefaultDebounce = 500 * time.Millisecond

var _ Watcher = (*FileWatcher)(nil)

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithDebounce sets the quiet period before a batch fires.
func WithDebounce(d time.Duration) Option {
	return func(fw *FileWatcher) {
		if d > 0 {
			fw.debounce = d
		}
	}
}

// WithExtensions restricts events to files with these extensions.
// With none, every file is reported.
func WithExtensions(exts ...string) Option {
	return func(fw *FileWatcher) {
		for _, ext := range exts {
			fw.extensions[ext] = true
		}
	}
}

// WithIgnore skips paths matching any of the glob patterns. Patterns are
// matched against the slash separated path relative to the watched root.
func WithIgnore(patterns ...string) Option {
	return func(fw *FileWatcher) {
		for _, p := range patterns {
			g, err := glob.Compile(p, '/')
			if err != nil {
				fw.logger.Warn("watcher.ignore.invalid", "pattern", p, "error", err)
				continue
			}
			fw.ignore = append(fw.ignore, g)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(fw *FileWatcher) {
		if l != nil {
			fw.logger = l
		}
	}
}

// FileWatcher watches directory trees with fsnotify.
type FileWatcher struct {
	watcher    *fsnotify.Watcher
	roots      []string
	extensions map[string]bool
	ignore     []glob.Glob
	debounce   time.Duration
	logger     *slog.Logger

	callback func(files []string)
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex // guards paused, pending, timer
	paused  bool
	pending map[string]struct{}
	timer   *time.Timer

	stopOnce sync.Once
	doneCh   chan struct{}
}

// New creates a watcher over the given root directories. Every directory
// below a root is watched, except ignored ones.
func New(roots []string, opts ...Option) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:    w,
		extensions: make(map[string]bool),
		debounce:   DefaultDebounce,
		logger:     slog.New(slog.DiscardHandler),
		pending:    make(map[string]struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fw)
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			w.Close()
			return nil, err
		}
		fw.roots = append(fw.roots, abs)
		if err := fw.addTree(abs); err != nil {
			w.Close()
			return nil, err
		}
	}
	return fw, nil
}

// Start begins watching for file changes.
func (fw *FileWatcher) Start(ctx context.Context, callback func(files []string)) error {
	if callback == nil {
		return errors.New("watcher: nil callback")
	}
	fw.callback = callback
	fw.ctx, fw.cancel = context.WithCancel(ctx)

	go fw.watch()
	return nil
}

// Stop stops the file watcher. It is safe to call more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		if fw.cancel != nil {
			fw.cancel()
			<-fw.doneCh
		} else {
			close(fw.doneCh)
		}
		err = fw.watcher.Close()
	})
	return err
}

// Pause stops firing callbacks but continues accumulating events.
func (fw *FileWatcher) Pause() {
	fw.mu.Lock()
	fw.paused = true
	fw.mu.Unlock()
}

// Resume resumes firing callbacks. If events accumulated during pause, fires immediately.
func (fw *FileWatcher) Resume() {
	fw.mu.Lock()
	wasPaused := fw.paused
	fw.paused = false
	fw.mu.Unlock()

	if wasPaused {
		fw.flush()
	}
}

func (fw *FileWatcher) watch() {
	defer close(fw.doneCh)

	fire := make(chan struct{}, 1)
	for {
		select {
		case <-fw.ctx.Done():
			fw.stopTimer()
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := fw.addTree(event.Name); err != nil {
						fw.logger.Warn("watcher.add.failed", "dir", event.Name, "error", err)
					}
					continue
				}
			}
			if !fw.relevant(event) {
				continue
			}
			fw.mu.Lock()
			fw.pending[event.Name] = struct{}{}
			fw.resetTimerLocked(fire)
			fw.mu.Unlock()

		case <-fire:
			fw.mu.Lock()
			paused := fw.paused
			fw.mu.Unlock()
			if !paused {
				fw.flush()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watcher.error", "error", err)
		}
	}
}

// flush delivers the pending batch, if any.
func (fw *FileWatcher) flush() {
	fw.mu.Lock()
	if len(fw.pending) == 0 {
		fw.mu.Unlock()
		return
	}
	files := make([]string, 0, len(fw.pending))
	for f := range fw.pending {
		files = append(files, f)
	}
	fw.pending = make(map[string]struct{})
	fw.mu.Unlock()

	slices.Sort(files)
	fw.logger.Debug("watcher.batch", "files", len(files))
	if fw.callback != nil {
		fw.callback(files)
	}
}

func (fw *FileWatcher) resetTimerLocked(fire chan struct{}) {
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case fire <- struct{}{}:
		default:
		}
	})
}

func (fw *FileWatcher) stopTimer() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.timer != nil {
		fw.timer.Stop()
		fw.timer = nil
	}
}

func (fw *FileWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if len(fw.extensions) > 0 && !fw.extensions[filepath.Ext(event.Name)] {
		return false
	}
	return !fw.ignored(event.Name)
}

func (fw *FileWatcher) ignored(path string) bool {
	if len(fw.ignore) == 0 {
		return false
	}
	for _, root := range fw.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." || rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
			continue
		}
		rel = filepath.ToSlash(rel)
		for _, g := range fw.ignore {
			if g.Match(rel) || g.Match(rel+"/**") {
				return true
			}
		}
	}
	return false
}

// addTree adds every non-ignored directory below root.
func (fw *FileWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			fw.logger.Warn("watcher.walk", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && fw.ignored(path) {
			return filepath.SkipDir
		}
		if err := fw.watcher.Add(path); err != nil {
			fw.logger.Warn("watcher.add.failed", "dir", path, "error", err)
		}
		return nil
	})
}
