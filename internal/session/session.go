// Package session runs one asynchronous indexing pass over a loaded unit.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/graph"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workers"
)

// State is the progress of a session.
type State int

const (
	Idle State = iota
	Running
	Ready
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session indexes one unit at most once. The consumer observes completion
// through Ready and reads the result with Snapshot.
type Session struct {
	id     string
	fe     frontend.Frontend
	pool   *workers.Pool
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	snapshot *graph.Snapshot
	err      error
	detached bool
	starting bool
	cancel   context.CancelFunc
	ready    chan struct{}
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New creates an idle session that indexes with fe on pool.
func New(fe frontend.Frontend, pool *workers.Pool, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		fe:     fe,
		pool:   pool,
		logger: slog.New(slog.DiscardHandler),
		ready:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the run has finished. It is never closed for a
// session that was not started.
func (s *Session) Ready() <-chan struct{} { return s.ready }

// Snapshot returns the published snapshot, or graph.Empty before Ready and
// after Close.
func (s *Session) Snapshot() *graph.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return graph.Empty()
	}
	return s.snapshot
}

// Err returns the traversal error of a finished run. A run that failed part
// way still publishes what it gathered.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start begins indexing the unit held by h. The session takes its own hold
// on the unit, so h may be released as soon as Start returns. Start does
// nothing unless the session is Idle.
func (s *Session) Start(h *unit.Handle) error {
	s.mu.Lock()
	if s.state != Idle || s.detached || s.starting {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.mu.Unlock()

	// Cloning may wait for the unit to load; the lock is not held meanwhile.
	own, err := h.Clone()
	if err != nil {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
		return fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if s.detached {
		own.Release()
		return nil
	}
	parsed, err := own.Parsed()
	if err != nil {
		own.Release()
		return fmt.Errorf("start session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = Running

	s.logger.Debug("indexing started", "unit", parsed.Path())
	f := s.pool.Submit(ctx, func(ctx context.Context) (err error) {
		defer own.Release()
		snap := graph.Empty()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("indexing panicked", "unit", parsed.Path(), "panic", r)
				err = fmt.Errorf("index %s: panic: %v", parsed.Path(), r)
			}
			s.finish(snap, err)
		}()
		snap, err = graph.Build(ctx, s.fe, parsed, graph.WithLogger(s.logger))
		return err
	})
	if err := f.Err(); err != nil {
		// Rejected without running.
		own.Release()
		cancel()
		s.state = Idle
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

func (s *Session) finish(snap *graph.Snapshot, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = Ready
	if s.detached {
		s.logger.Debug("dropping result of detached session")
	} else {
		s.snapshot = snap
		s.err = err
		s.logger.Debug("indexing finished",
			"entities", len(snap.Entities()),
			"references", len(snap.References()),
			"elapsed", snap.IndexingTime())
	}
	s.cancel()
	close(s.ready)
}

// Wait blocks until the session is Ready or ctx ends.
func (s *Session) Wait(ctx context.Context) (*graph.Snapshot, error) {
	select {
	case <-s.ready:
		return s.Snapshot(), s.Err()
	case <-ctx.Done():
		return graph.Empty(), ctx.Err()
	}
}

// Close detaches the consumer. A running pass is cancelled and its result
// dropped. Close does not wait for the pass to stop.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.detached {
		return
	}
	s.detached = true
	s.snapshot = nil
	if s.cancel != nil {
		s.cancel()
	}
}
