// Package unit implements the lifecycle of a translation unit and the
// reference-counted handles that keep it loaded.
package unit

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

var (
	// ErrLoadFailed is returned by Acquire when the unit could not be loaded.
	ErrLoadFailed = errors.New("translation unit failed to load")

	// ErrInvalidHandle is returned when a released or empty handle is used.
	ErrInvalidHandle = errors.New("invalid translation unit handle")

	// ErrUnmanaged is returned by RequestLoad when no loader is attached.
	ErrUnmanaged = errors.New("translation unit has no loader")
)

// Phase is the lifecycle state of a unit.
type Phase int

const (
	AwaitingParsing Phase = iota
	Parsing
	Loaded
	Suspended
)

func (p Phase) String() string {
	switch p {
	case AwaitingParsing:
		return "awaiting-parsing"
	case Parsing:
		return "parsing"
	case Loaded:
		return "loaded"
	case Suspended:
		return "suspended"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Flag is a scheduling mark on a unit.
type Flag uint8

const (
	// FlagScheduled is set while a load job for the unit is pending.
	FlagScheduled Flag = 1 << iota
	// FlagStale is set when the unit's sources changed since the last parse.
	FlagStale
)

// Loader starts loading units. The scheduler is the usual implementation.
type Loader interface {
	Load(u *Unit)
}

// LoadProc is called by Acquire, without the unit lock held, whenever the
// unit is not loaded. It must start the load and return; Acquire does the
// waiting.
type LoadProc func(u *Unit) error

// Unit is one translation unit: a main source file, the compile options it
// is parsed with, and its current parsed representation.
type Unit struct {
	path string

	mu       sync.Mutex
	cond     *sync.Cond
	phase    Phase
	flags    Flag
	useCount int
	parsed   frontend.Parsed
	failures int
	lastErr  error
	opts     *frontend.CompileOptions
	loader   Loader
	loadProc LoadProc

	listenersMu sync.RWMutex
	listeners   []*listener
}

// New creates a unit for the source file at path in phase AwaitingParsing.
func New(path string) *Unit {
	u := &Unit{path: filepath.Clean(path)}
	u.cond = sync.NewCond(&u.mu)
	u.loadProc = (*Unit).RequestLoad
	return u
}

// Path returns the unit's main source file.
func (u *Unit) Path() string { return u.path }

func (u *Unit) String() string { return u.path }

// Phase returns the current phase.
func (u *Unit) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

// IsLoaded reports whether the unit is Loaded.
func (u *Unit) IsLoaded() bool { return u.Phase() == Loaded }

// UseCount returns the number of live handles.
func (u *Unit) UseCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.useCount
}

// Used reports whether any handle holds the unit.
func (u *Unit) Used() bool { return u.UseCount() > 0 }

// HasFlag reports whether f is set.
func (u *Unit) HasFlag(f Flag) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.flags&f != 0
}

// LastError returns the error of the most recent failed load.
func (u *Unit) LastError() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastErr
}

// CompileOptions returns the options the unit is parsed with. The returned
// value is shared and must not be modified.
func (u *Unit) CompileOptions() *frontend.CompileOptions {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.opts == nil {
		return &frontend.CompileOptions{}
	}
	return u.opts
}

// SetCompileOptions replaces the compile options. They take effect on the
// next parse.
func (u *Unit) SetCompileOptions(opts *frontend.CompileOptions) {
	u.mu.Lock()
	u.opts = opts
	u.mu.Unlock()
}

// SetLoader attaches the loader used by RequestLoad.
func (u *Unit) SetLoader(l Loader) {
	u.mu.Lock()
	u.loader = l
	u.mu.Unlock()
}

// SetLoadProc replaces the procedure Acquire runs for an unloaded unit.
// A nil proc restores RequestLoad.
func (u *Unit) SetLoadProc(proc LoadProc) {
	if proc == nil {
		proc = (*Unit).RequestLoad
	}
	u.mu.Lock()
	u.loadProc = proc
	u.mu.Unlock()
}

// SetPhase moves the unit to p. Observers see the change after the lock is
// released; a move to Loaded also wakes blocked acquirers.
func (u *Unit) SetPhase(p Phase) {
	u.mu.Lock()
	if u.phase == p {
		u.mu.Unlock()
		return
	}
	u.phase = p
	if p == Loaded {
		u.cond.Broadcast()
	}
	u.mu.Unlock()

	u.publish(Event{Kind: EventPhaseChanged, Phase: p})
	if p == Loaded {
		u.publish(Event{Kind: EventLoaded, Phase: p})
	}
}

// RequestLoad asks the attached loader to load the unit. It does nothing
// when the unit is Loaded or Parsing.
func (u *Unit) RequestLoad() error {
	u.mu.Lock()
	phase, loader := u.phase, u.loader
	u.mu.Unlock()

	if phase == Loaded || phase == Parsing {
		return nil
	}
	if loader == nil {
		return fmt.Errorf("%s: %w", u.path, ErrUnmanaged)
	}
	loader.Load(u)
	return nil
}

// MarkScheduled sets FlagScheduled and reports whether it was clear, so
// that only one load job is submitted at a time.
func (u *Unit) MarkScheduled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.flags&FlagScheduled != 0 {
		return false
	}
	u.flags |= FlagScheduled
	return true
}

// ClearScheduled drops FlagScheduled without starting a parse.
func (u *Unit) ClearScheduled() {
	u.mu.Lock()
	u.flags &^= FlagScheduled
	u.mu.Unlock()
}

// MarkStale records that the unit's sources changed.
func (u *Unit) MarkStale() {
	u.mu.Lock()
	u.flags |= FlagStale
	u.mu.Unlock()
}

// BeginParse moves the unit to Parsing and hands the current parsed
// representation to the caller, which now owns it until CompleteLoad or
// FailLoad. It refuses when another parse is running or when a Loaded unit
// still has live handles.
func (u *Unit) BeginParse() (frontend.Parsed, bool) {
	u.mu.Lock()
	u.flags &^= FlagScheduled
	if u.phase == Parsing || (u.phase == Loaded && u.useCount > 0) {
		u.mu.Unlock()
		return nil, false
	}
	u.flags &^= FlagStale
	u.phase = Parsing
	prev := u.parsed
	u.mu.Unlock()

	u.publish(Event{Kind: EventPhaseChanged, Phase: Parsing})
	return prev, true
}

// CompleteLoad installs p and moves the unit to Loaded.
func (u *Unit) CompleteLoad(p frontend.Parsed) {
	u.mu.Lock()
	u.parsed = p
	u.phase = Loaded
	u.lastErr = nil
	u.cond.Broadcast()
	u.mu.Unlock()

	u.publish(Event{Kind: EventPhaseChanged, Phase: Loaded})
	u.publish(Event{Kind: EventLoaded, Phase: Loaded})
}

// FailLoad records a failed parse and returns the unit to AwaitingParsing.
// Blocked acquirers wake up and report err.
func (u *Unit) FailLoad(err error) {
	u.mu.Lock()
	u.parsed = nil
	u.phase = AwaitingParsing
	u.failures++
	u.lastErr = err
	u.cond.Broadcast()
	u.mu.Unlock()

	u.publish(Event{Kind: EventPhaseChanged, Phase: AwaitingParsing})
	u.publish(Event{Kind: EventLoadFailed, Phase: AwaitingParsing, Err: err})
}

// Suspend moves an idle Loaded unit to Suspended. The check and the
// transition happen under one lock acquisition, so a handle acquired
// concurrently either sees Loaded and blocks the suspension, or waits for
// the next load. suspend, if non-nil, compacts the parsed representation
// first; its failure leaves the unit Loaded.
func (u *Unit) Suspend(suspend func(frontend.Parsed) error) (bool, error) {
	u.mu.Lock()
	if u.useCount != 0 || u.phase != Loaded {
		u.mu.Unlock()
		return false, nil
	}
	if suspend != nil && u.parsed != nil {
		if err := suspend(u.parsed); err != nil {
			u.mu.Unlock()
			return false, fmt.Errorf("suspend %s: %w", u.path, err)
		}
	}
	u.phase = Suspended
	u.mu.Unlock()

	u.publish(Event{Kind: EventPhaseChanged, Phase: Suspended})
	return true, nil
}

// release drops one use. It never suspends.
func (u *Unit) release() {
	u.mu.Lock()
	if u.useCount == 0 {
		u.mu.Unlock()
		return
	}
	u.useCount--
	unused := u.useCount == 0
	phase := u.phase
	u.mu.Unlock()

	if unused {
		u.publish(Event{Kind: EventUnused, Phase: phase})
	}
}
