// Package scheduler decides when translation units are parsed, reparsed and
// suspended.
//
// Units waiting for their first parse sit in a FIFO queue drained by a
// debounced pass that keeps fewer than max(W-1, 1) jobs in flight on a pool
// of W workers, leaving room for indexing. A unit explicitly requested
// through Load is taken out of the queue and submitted at once. Units left
// without handles are suspended by a second debounced pass.
package scheduler

import (
	"container/list"
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workers"
)

const (
	DefaultDrainDelay  = 10 * time.Millisecond
	DefaultUnloadDelay = 500 * time.Millisecond
)

// Scheduler owns the worker pool and the parse queue.
type Scheduler struct {
	fe      frontend.Frontend
	pool    *workers.Pool
	factory LoaderFactory
	logger  *slog.Logger

	maxWorkers  int
	drainDelay  time.Duration
	unloadDelay time.Duration

	unitsMu sync.Mutex
	units   []*unit.Unit
	cancels []func()

	queueMu sync.Mutex
	queue   *list.List
	queued  map[*unit.Unit]*list.Element

	unloadMu sync.Mutex
	toUnload []*unit.Unit

	drain  *deferredCall
	unload *deferredCall
	closed atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxWorkers sets the pool size.
func WithMaxWorkers(n int) Option {
	return func(s *Scheduler) {
		s.maxWorkers = n
	}
}

// WithDrainDelay sets the debounce delay of the queue drain pass.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.drainDelay = d
	}
}

// WithUnloadDelay sets the debounce delay of the unload pass.
func WithUnloadDelay(d time.Duration) Option {
	return func(s *Scheduler) {
		s.unloadDelay = d
	}
}

// WithLoaderFactory replaces the factory producing load jobs.
func WithLoaderFactory(f LoaderFactory) Option {
	return func(s *Scheduler) {
		s.factory = f
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates a scheduler parsing with fe.
func New(fe frontend.Frontend, opts ...Option) *Scheduler {
	s := &Scheduler{
		fe:          fe,
		logger:      slog.New(slog.DiscardHandler),
		maxWorkers:  runtime.NumCPU(),
		drainDelay:  DefaultDrainDelay,
		unloadDelay: DefaultUnloadDelay,
		queue:       list.New(),
		queued:      make(map[*unit.Unit]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = NewLoaderFactory(fe, s.logger)
	}
	s.pool = workers.NewPool(s.maxWorkers, s.logger)
	s.drain = newDeferredCall(s.drainDelay, s.drainQueue)
	s.unload = newDeferredCall(s.unloadDelay, s.unloadUnits)
	return s
}

// Pool returns the worker pool shared with indexing sessions.
func (s *Scheduler) Pool() *workers.Pool { return s.pool }

// Frontend returns the front-end units are parsed with.
func (s *Scheduler) Frontend() frontend.Frontend { return s.fe }

// Units returns the managed units in the order they were added.
func (s *Scheduler) Units() []*unit.Unit {
	s.unitsMu.Lock()
	defer s.unitsMu.Unlock()
	return append([]*unit.Unit(nil), s.units...)
}

// QueueLen returns the number of units waiting in the parse queue.
func (s *Scheduler) QueueLen() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.Len()
}

// AddUnits takes ownership of units. They share opts and are queued for
// parsing if they have never been parsed.
func (s *Scheduler) AddUnits(units []*unit.Unit, opts *frontend.CompileOptions) {
	if opts == nil {
		opts = &frontend.CompileOptions{}
	}

	s.unitsMu.Lock()
	for _, u := range units {
		u.SetCompileOptions(opts)
		u.SetLoader(s)
		s.units = append(s.units, u)
		s.cancels = append(s.cancels, u.Watch(s.onUnitEvent))
	}
	s.unitsMu.Unlock()

	s.queueMu.Lock()
	for _, u := range units {
		if u.Phase() == unit.AwaitingParsing {
			s.enqueueLocked(u, false)
		}
	}
	s.queueMu.Unlock()

	s.logger.Debug("units added", "count", len(units), "queued", s.QueueLen())
	s.drain.Schedule()
}

// Load implements unit.Loader. A queued unit is promoted and submitted
// immediately; any other unit is put at the front of the queue.
func (s *Scheduler) Load(u *unit.Unit) {
	if s.closed.Load() {
		return
	}
	switch u.Phase() {
	case unit.Loaded, unit.Parsing:
		return
	}
	if u.HasFlag(unit.FlagScheduled) {
		return
	}

	s.queueMu.Lock()
	if el, ok := s.queued[u]; ok {
		s.queue.Remove(el)
		delete(s.queued, u)
		s.queueMu.Unlock()

		s.logger.Debug("promoting queued unit", "unit", u.Path())
		s.submit(u)
		return
	}
	s.enqueueLocked(u, true)
	s.queueMu.Unlock()

	s.drain.Schedule()
}

// Reparse marks u stale and reparses it as soon as no handle holds it.
func (s *Scheduler) Reparse(u *unit.Unit) {
	if s.closed.Load() {
		return
	}
	u.MarkStale()

	switch u.Phase() {
	case unit.AwaitingParsing, unit.Suspended:
		// The next load parses fresh content anyway; the stale mark is
		// cleared when it starts.
		return
	case unit.Parsing:
		// Checked again when the running parse completes.
		return
	case unit.Loaded:
		if u.UseCount() == 0 {
			s.submit(u)
		}
	}
}

func (s *Scheduler) enqueueLocked(u *unit.Unit, front bool) {
	if _, ok := s.queued[u]; ok {
		return
	}
	if front {
		s.queued[u] = s.queue.PushFront(u)
	} else {
		s.queued[u] = s.queue.PushBack(u)
	}
}

// drainQueue submits queued units while fewer than max(W-1, 1) jobs are in
// flight.
func (s *Scheduler) drainQueue() {
	limit := max(s.pool.Size()-1, 1)

	s.queueMu.Lock()
	var batch []*unit.Unit
	for s.pool.InFlight()+len(batch) < limit && s.queue.Len() > 0 {
		u := s.queue.Remove(s.queue.Front()).(*unit.Unit)
		delete(s.queued, u)
		batch = append(batch, u)
	}
	s.queueMu.Unlock()

	for _, u := range batch {
		s.submit(u)
	}
}

// submit hands u to the pool unless a job for it is already pending.
func (s *Scheduler) submit(u *unit.Unit) {
	if s.closed.Load() || !u.MarkScheduled() {
		return
	}
	job := s.factory.NewLoader(u)
	f := s.pool.Submit(context.Background(), job)
	go func() {
		<-f.Done()
		s.drain.Schedule()
	}()
}

func (s *Scheduler) onUnitEvent(ev unit.Event) {
	u := ev.Unit
	switch ev.Kind {
	case unit.EventLoaded:
		if u.HasFlag(unit.FlagStale) && u.UseCount() == 0 {
			s.submit(u)
			return
		}
		s.checkUsed(u)
	case unit.EventLoadFailed:
		s.logger.Warn("translation unit failed to load", "unit", u.Path(), "error", ev.Err)
	case unit.EventUnused:
		if u.HasFlag(unit.FlagStale) {
			s.submit(u)
			return
		}
		s.checkUsed(u)
	}
}

// checkUsed puts an idle unit on the pending-unload list.
func (s *Scheduler) checkUsed(u *unit.Unit) {
	if u.UseCount() != 0 {
		return
	}
	s.unloadMu.Lock()
	s.toUnload = append(s.toUnload, u)
	s.unloadMu.Unlock()
	s.unload.Schedule()
}

// unloadUnits suspends every pending unit that is still idle and Loaded.
func (s *Scheduler) unloadUnits() {
	s.unloadMu.Lock()
	pending := s.toUnload
	s.toUnload = nil
	s.unloadMu.Unlock()

	for _, u := range pending {
		ok, err := u.Suspend(s.fe.Suspend)
		if err != nil {
			s.logger.Warn("failed to suspend translation unit", "unit", u.Path(), "error", err)
			continue
		}
		if ok {
			s.logger.Debug("suspended translation unit", "unit", u.Path())
		}
	}
}

// Close stops the debounced passes, detaches from the units and waits for
// running jobs. No job may be submitted after Close.
func (s *Scheduler) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.drain.Stop()
	s.unload.Stop()

	s.unitsMu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	s.unitsMu.Unlock()

	s.pool.Close()
}
