package unit

import (
	"context"
	"fmt"
	"sync"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// Handle keeps a unit loaded for as long as it is held. A unit with live
// handles is never suspended or reparsed.
//
// The zero Handle is empty and invalid. Handles are safe for concurrent use,
// but Release must be called exactly once per acquired handle for the use
// count to stay exact; extra calls are ignored.
type Handle struct {
	mu   sync.Mutex
	unit *Unit
}

// Acquire blocks until u is Loaded, then returns a handle holding it.
//
// While the unit is not loaded Acquire runs the unit's LoadProc and waits.
// It returns an error wrapping ErrLoadFailed when a load started after the
// call fails, and ctx.Err() when ctx ends first.
func Acquire(ctx context.Context, u *Unit) (*Handle, error) {
	if u == nil {
		return nil, ErrInvalidHandle
	}
	if err := u.acquire(ctx); err != nil {
		return nil, err
	}
	return &Handle{unit: u}, nil
}

func (u *Unit) acquire(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		u.mu.Lock()
		u.cond.Broadcast()
		u.mu.Unlock()
	})
	defer stop()

	u.mu.Lock()
	for u.phase != Loaded {
		if err := ctx.Err(); err != nil {
			u.mu.Unlock()
			return err
		}
		failures := u.failures
		proc := u.loadProc
		u.mu.Unlock()

		if err := proc(u); err != nil {
			return fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}

		u.mu.Lock()
		for u.phase != Loaded && u.failures == failures && ctx.Err() == nil {
			u.cond.Wait()
		}
		if u.phase != Loaded && u.failures != failures {
			err := u.lastErr
			u.mu.Unlock()
			return fmt.Errorf("%w: %s: %w", ErrLoadFailed, u.path, err)
		}
		// Suspended again before we woke up: go around and reload.
	}
	u.useCount++
	used := u.useCount == 1
	u.mu.Unlock()

	if used {
		u.publish(Event{Kind: EventUsed, Phase: Loaded})
	}
	return nil
}

// Unit returns the held unit, or nil for an empty handle.
func (h *Handle) Unit() *Unit {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unit
}

// Valid reports whether h holds a Loaded unit.
func (h *Handle) Valid() bool {
	u := h.Unit()
	return u != nil && u.IsLoaded()
}

// Parsed returns the unit's parsed representation.
func (h *Handle) Parsed() (frontend.Parsed, error) {
	u := h.Unit()
	if u == nil {
		return nil, ErrInvalidHandle
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase != Loaded || u.parsed == nil {
		return nil, fmt.Errorf("%s is %s: %w", u.path, u.phase, ErrInvalidHandle)
	}
	return u.parsed, nil
}

// Clone acquires a second handle on the same unit.
func (h *Handle) Clone() (*Handle, error) {
	return h.CloneContext(context.Background())
}

// CloneContext is Clone with a context bounding the wait.
func (h *Handle) CloneContext(ctx context.Context) (*Handle, error) {
	u := h.Unit()
	if u == nil {
		return nil, ErrInvalidHandle
	}
	return Acquire(ctx, u)
}

// Move transfers h's hold to a new handle and leaves h empty.
func (h *Handle) Move() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	moved := &Handle{unit: h.unit}
	h.unit = nil
	return moved
}

// Release drops the hold. It is safe to call more than once.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	u := h.unit
	h.unit = nil
	h.mu.Unlock()

	if u != nil {
		u.release()
	}
}

// Reset makes h hold u instead of its current unit.
func (h *Handle) Reset(ctx context.Context, u *Unit) error {
	if h.Unit() == u {
		return nil
	}
	if u == nil {
		h.Release()
		return nil
	}
	if err := u.acquire(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	old := h.unit
	h.unit = u
	h.mu.Unlock()

	if old != nil {
		old.release()
	}
	return nil
}
