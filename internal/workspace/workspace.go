// Package workspace wires configuration, the source cache, the front-end and
// the scheduler together. It is the one place that constructs them; nothing
// below it reaches for globals.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/mvp-joe/tuindex/internal/cache"
	"github.com/mvp-joe/tuindex/internal/config"
	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/frontend/cparser"
	"github.com/mvp-joe/tuindex/internal/graph"
	"github.com/mvp-joe/tuindex/internal/scheduler"
	"github.com/mvp-joe/tuindex/internal/session"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/watcher"
)

// ErrClosed is returned by operations on a closed workspace.
var ErrClosed = errors.New("workspace closed")

// HeaderExtensions are watched in addition to the source extensions.
var HeaderExtensions = []string{".h", ".hh", ".hpp", ".hxx", ".inc"}

// Option configures a Workspace.
type Option func(*options)

type options struct {
	fs afero.Fs
	fe frontend.Frontend
}

// WithFs reads sources and discovers units through fs instead of the OS.
func WithFs(fs afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithFrontend replaces the tree-sitter C front-end.
func WithFrontend(fe frontend.Frontend) Option {
	return func(o *options) {
		o.fe = fe
	}
}

// Workspace owns the units of one source tree.
type Workspace struct {
	root      string
	cfg       *config.Config
	logger    *slog.Logger
	fs        afero.Fs
	cache     *cache.SourceCache
	fe        frontend.Frontend
	sched     *scheduler.Scheduler
	discovery *Discovery
	compile   *frontend.CompileOptions

	mu     sync.Mutex
	units  map[string]*unit.Unit
	files  map[*unit.Unit][]string // files seen by the last index of each unit
	closed bool
}

// New builds the source cache, the front-end and the scheduler for the tree
// rooted at root. A nil cfg means config.Default().
func New(root string, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Workspace, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := options{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(&o)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}

	sc, err := cache.NewSourceCache(
		cache.WithFs(o.fs),
		cache.WithLogger(logger),
		cache.WithMaxBytes(cfg.Cache.SourceMaxMB<<20),
		cache.WithTTL(cfg.Cache.SourceTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("create source cache: %w", err)
	}

	disc, err := NewDiscovery(o.fs, abs, cfg.Paths.Sources, cfg.Paths.Ignore)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("compile source patterns: %w", err)
	}

	fe := o.fe
	if fe == nil {
		fe = cparser.New(cparser.WithSourceReader(sc), cparser.WithLogger(logger))
	}

	sched := scheduler.New(fe,
		scheduler.WithMaxWorkers(cfg.Scheduler.MaxWorkers),
		scheduler.WithDrainDelay(cfg.Scheduler.DrainDelay),
		scheduler.WithUnloadDelay(cfg.Scheduler.UnloadDelay),
		scheduler.WithLogger(logger),
	)

	return &Workspace{
		root:      abs,
		cfg:       cfg,
		logger:    logger,
		fs:        o.fs,
		cache:     sc,
		fe:        fe,
		sched:     sched,
		discovery: disc,
		compile:   cfg.CompileOptions(abs),
		units:     make(map[string]*unit.Unit),
		files:     make(map[*unit.Unit][]string),
	}, nil
}

// Root returns the absolute root directory.
func (ws *Workspace) Root() string { return ws.root }

// Frontend returns the front-end units are parsed with.
func (ws *Workspace) Frontend() frontend.Frontend { return ws.fe }

// Capabilities reports the optional queries of the front-end.
func (ws *Workspace) Capabilities() frontend.Capabilities {
	return frontend.CapabilitiesOf(ws.fe)
}

// CacheStats returns the source cache counters.
func (ws *Workspace) CacheStats() cache.Stats { return ws.cache.Stats() }

// Open creates units for the given files and for the source files found
// below the given directories. Relative paths are resolved against the
// root; no paths means the whole root. Units that already exist are reused.
// The returned units are sorted by path.
func (ws *Workspace) Open(paths ...string) ([]*unit.Unit, error) {
	if len(paths) == 0 {
		paths = []string{ws.root}
	}

	var found []string
	for _, p := range paths {
		p = ws.abs(p)
		info, err := ws.fs.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", p, err)
		}
		if !info.IsDir() {
			found = append(found, p)
			continue
		}
		files, err := ws.discovery.Discover(p)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", p, err)
		}
		found = append(found, files...)
	}
	slices.Sort(found)
	found = slices.Compact(found)

	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return nil, ErrClosed
	}
	var fresh, result []*unit.Unit
	for _, p := range found {
		u, ok := ws.units[p]
		if !ok {
			u = unit.New(p)
			ws.units[p] = u
			fresh = append(fresh, u)
		}
		result = append(result, u)
	}
	ws.mu.Unlock()

	if len(fresh) > 0 {
		ws.sched.AddUnits(fresh, ws.compile)
		ws.logger.Info("opened translation units", "new", len(fresh), "total", len(result))
	}
	return result, nil
}

// Units returns every unit sorted by path.
func (ws *Workspace) Units() []*unit.Unit {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	units := slices.Collect(maps.Values(ws.units))
	slices.SortFunc(units, func(a, b *unit.Unit) int {
		switch {
		case a.Path() < b.Path():
			return -1
		case a.Path() > b.Path():
			return 1
		}
		return 0
	})
	return units
}

// Unit returns the unit whose main file is path.
func (ws *Workspace) Unit(path string) (*unit.Unit, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	u, ok := ws.units[ws.abs(path)]
	return u, ok
}

// Index loads u if needed and indexes it. It holds u for the whole pass and
// returns the snapshot once the session is Ready.
func (ws *Workspace) Index(ctx context.Context, u *unit.Unit) (*graph.Snapshot, error) {
	if ws.isClosed() {
		return graph.Empty(), ErrClosed
	}
	start := time.Now()

	h, err := unit.Acquire(ctx, u)
	if err != nil {
		return graph.Empty(), err
	}
	defer h.Release()

	s := session.New(ws.fe, ws.sched.Pool(), session.WithLogger(ws.logger))
	defer s.Close()
	if err := s.Start(h); err != nil {
		return graph.Empty(), err
	}
	snap, err := s.Wait(ctx)
	if ctx.Err() == nil {
		ws.recordFiles(u, snap)
	}

	ws.logger.Debug("indexed translation unit",
		"unit", u.Path(),
		"session", s.ID(),
		"files", len(snap.Files()),
		"elapsed", time.Since(start))
	return snap, err
}

func (ws *Workspace) recordFiles(u *unit.Unit, snap *graph.Snapshot) {
	if len(snap.Files()) == 0 {
		return
	}
	paths := make([]string, 0, len(snap.Files()))
	for _, f := range snap.Files() {
		paths = append(paths, f.Path)
	}
	ws.mu.Lock()
	ws.files[u] = paths
	ws.mu.Unlock()
}

// WatchFunc receives the result of re-indexing a unit after a change.
type WatchFunc func(u *unit.Unit, snap *graph.Snapshot, err error)

// Watch re-indexes units whose files change until ctx ends. Batches are
// handled one at a time; changes arriving meanwhile are accumulated and
// delivered as the next batch.
func (ws *Workspace) Watch(ctx context.Context, fn WatchFunc) error {
	if ws.isClosed() {
		return ErrClosed
	}
	exts := append(ws.cfg.SourceExtensions(), HeaderExtensions...)
	fw, err := watcher.New([]string{ws.root},
		watcher.WithDebounce(ws.cfg.Watch.Debounce),
		watcher.WithExtensions(exts...),
		watcher.WithIgnore(ws.cfg.Paths.Ignore...),
		watcher.WithLogger(ws.logger),
	)
	if err != nil {
		return fmt.Errorf("watch %s: %w", ws.root, err)
	}

	var wg sync.WaitGroup
	err = fw.Start(ctx, func(files []string) {
		if ctx.Err() != nil {
			return
		}
		fw.Pause()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer fw.Resume()
			ws.Changed(ctx, files, fn)
		}()
	})
	if err != nil {
		_ = fw.Stop()
		return err
	}
	ws.logger.Info("watching for changes", "root", ws.root)

	<-ctx.Done()
	err = fw.Stop()
	wg.Wait()
	return err
}

// Changed handles a batch of changed files: it drops their cached sources,
// opens new source files as units, reparses every unit that includes one of
// the files and re-indexes it, reporting each result to fn.
func (ws *Workspace) Changed(ctx context.Context, files []string, fn WatchFunc) {
	changed := make(map[string]bool, len(files))
	var created []string
	for _, f := range files {
		f = ws.abs(f)
		changed[f] = true
		ws.cache.Invalidate(f)
		if _, known := ws.Unit(f); !known && ws.discovery.Matches(f) {
			if _, err := ws.fs.Stat(f); err == nil {
				created = append(created, f)
			}
		}
	}
	if len(created) > 0 {
		if _, err := ws.Open(created...); err != nil {
			ws.logger.Warn("failed to open new sources", "error", err)
		}
	}

	affected := ws.affected(changed)
	ws.logger.Info("files changed", "files", len(files), "units", len(affected))
	for _, u := range affected {
		ws.sched.Reparse(u)
	}
	for _, u := range affected {
		if err := awaitFresh(ctx, u); err != nil {
			fn(u, graph.Empty(), err)
			return
		}
		snap, err := ws.Index(ctx, u)
		fn(u, snap, err)
		if ctx.Err() != nil {
			return
		}
	}
}

// affected returns the units whose main file or last indexed files are in
// changed, sorted by path.
func (ws *Workspace) affected(changed map[string]bool) []*unit.Unit {
	var out []*unit.Unit
	for _, u := range ws.Units() {
		if changed[u.Path()] {
			out = append(out, u)
			continue
		}
		ws.mu.Lock()
		files := ws.files[u]
		ws.mu.Unlock()
		if slices.ContainsFunc(files, func(f string) bool { return changed[f] }) {
			out = append(out, u)
		}
	}
	return out
}

// awaitFresh waits until a reparse requested for u has finished. Units that
// are not loaded parse fresh content on their next acquire anyway.
func awaitFresh(ctx context.Context, u *unit.Unit) error {
	wake := make(chan struct{}, 1)
	cancel := u.Watch(func(unit.Event) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		switch u.Phase() {
		case unit.AwaitingParsing, unit.Suspended:
			return nil
		case unit.Loaded:
			if !u.HasFlag(unit.FlagStale) {
				return nil
			}
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the scheduler, waiting for running jobs, and drops the
// source cache. Units cannot be loaded afterwards.
func (ws *Workspace) Close() {
	ws.mu.Lock()
	if ws.closed {
		ws.mu.Unlock()
		return
	}
	ws.closed = true
	ws.mu.Unlock()

	ws.sched.Close()
	ws.cache.Close()
	ws.logger.Debug("workspace closed", "root", ws.root)
}

func (ws *Workspace) isClosed() bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closed
}

func (ws *Workspace) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(ws.root, p)
}
