package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Scheduler:
// - Two concurrent acquirers trigger exactly one parse and share the unit
// - A unit with a live handle survives the unload pass; idle units suspend
// - The drain pass keeps fewer than max(W-1, 1) parses in flight
// - Loading a queued unit promotes it past the drain limit
// - Parse failures surface as ErrLoadFailed and can be retried
// - Reparse waits for handles to go away
// - A custom LoaderFactory is used for every job
// - Close waits for running jobs but not for pending debounce timers
// - The debouncer collapses bursts into one pass (debounce_test.go)

type fakeParsed struct {
	path string
}

func (p *fakeParsed) Path() string { return p.path }

type fakeFrontend struct {
	mu       sync.Mutex
	parses   map[string]int
	reparses map[string]int
	suspends int
	failures map[string]int // remaining failures per path

	gate   chan struct{}
	active atomic.Int32
	peak   atomic.Int32
}

func newFakeFrontend() *fakeFrontend {
	return &fakeFrontend{
		parses:   make(map[string]int),
		reparses: make(map[string]int),
		failures: make(map[string]int),
	}
}

func (f *fakeFrontend) enter() {
	n := f.active.Add(1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeFrontend) Parse(ctx context.Context, path string, opts *frontend.CompileOptions) (frontend.Parsed, error) {
	f.mu.Lock()
	f.parses[path]++
	fail := f.failures[path] > 0
	if fail {
		f.failures[path]--
	}
	f.mu.Unlock()

	f.enter()
	defer f.active.Add(-1)

	if fail {
		return nil, fmt.Errorf("%s: syntax error", path)
	}
	return &fakeParsed{path: path}, nil
}

func (f *fakeFrontend) Reparse(ctx context.Context, p frontend.Parsed) error {
	f.mu.Lock()
	f.reparses[p.Path()]++
	f.mu.Unlock()
	return nil
}

func (f *fakeFrontend) Suspend(p frontend.Parsed) error {
	f.mu.Lock()
	f.suspends++
	f.mu.Unlock()
	return nil
}

func (f *fakeFrontend) Index(ctx context.Context, p frontend.Parsed, c frontend.Consumer) error {
	return nil
}

func (f *fakeFrontend) parseCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parses[path]
}

func (f *fakeFrontend) reparseCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reparses[path]
}

func (f *fakeFrontend) totalParses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.parses {
		n += c
	}
	return n
}

func newUnits(n int) []*unit.Unit {
	units := make([]*unit.Unit, n)
	for i := range units {
		units[i] = unit.New(fmt.Sprintf("/src/u%02d.c", i))
	}
	return units
}

func TestScheduler_TwoAcquirersShareOneParse(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	fe.gate = make(chan struct{})
	s := New(fe, WithMaxWorkers(2), WithUnloadDelay(20*time.Millisecond))
	defer s.Close()

	u := unit.New("/src/main.c")
	s.AddUnits([]*unit.Unit{u}, nil)

	handles := make(chan *unit.Handle, 2)
	for range 2 {
		go func() {
			h, err := unit.Acquire(context.Background(), u)
			assert.NoError(t, err)
			handles <- h
		}()
	}

	require.Eventually(t, func() bool { return fe.parseCount("/src/main.c") == 1 }, time.Second, time.Millisecond)
	close(fe.gate)

	h1 := <-handles
	h2 := <-handles
	require.NotNil(t, h1)
	require.NotNil(t, h2)
	assert.Equal(t, 1, fe.parseCount("/src/main.c"))
	assert.Equal(t, 2, u.UseCount())

	h1.Release()
	assert.Never(t, func() bool { return u.Phase() == unit.Suspended }, 100*time.Millisecond, 5*time.Millisecond)

	h2.Release()
	require.Eventually(t, func() bool { return u.Phase() == unit.Suspended }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, fe.parseCount("/src/main.c"))
}

func TestScheduler_LiveHandleSurvivesUnloadPass(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe, WithMaxWorkers(2), WithUnloadDelay(time.Hour))
	defer s.Close()

	units := newUnits(2)
	s.AddUnits(units, nil)

	held, err := unit.Acquire(context.Background(), units[0])
	require.NoError(t, err)
	idle, err := unit.Acquire(context.Background(), units[1])
	require.NoError(t, err)
	idle.Release()

	s.checkUsed(units[0])
	s.unloadUnits()

	assert.Equal(t, unit.Loaded, units[0].Phase())
	assert.True(t, held.Valid())
	assert.Equal(t, unit.Suspended, units[1].Phase())

	held.Release()
	s.unloadUnits()
	assert.Equal(t, unit.Suspended, units[0].Phase())
}

func TestScheduler_DrainKeepsHeadroom(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	fe.gate = make(chan struct{})
	s := New(fe, WithMaxWorkers(3), WithDrainDelay(time.Millisecond), WithUnloadDelay(time.Hour))
	defer s.Close()

	units := newUnits(8)
	s.AddUnits(units, frontend.NewCompileOptions([]string{"/inc"}, nil))

	require.Eventually(t, func() bool { return fe.active.Load() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return fe.active.Load() > 2 }, 50*time.Millisecond, time.Millisecond)
	assert.Equal(t, 6, s.QueueLen())

	close(fe.gate)
	require.Eventually(t, func() bool {
		for _, u := range units {
			if !u.IsLoaded() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.LessOrEqual(t, fe.peak.Load(), int32(2))
	assert.Equal(t, 8, fe.totalParses())
	assert.Equal(t, []string{"/inc"}, units[7].CompileOptions().IncludeDirs)
	assert.Same(t, units[0].CompileOptions(), units[7].CompileOptions(), "options are shared")
}

func TestScheduler_SingleWorkerStillDrains(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe, WithMaxWorkers(1), WithDrainDelay(time.Millisecond), WithUnloadDelay(time.Hour))
	defer s.Close()

	units := newUnits(3)
	s.AddUnits(units, nil)
	require.Eventually(t, func() bool { return fe.totalParses() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), fe.peak.Load())
}

func TestScheduler_LoadPromotesQueuedUnit(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	fe.gate = make(chan struct{})
	s := New(fe, WithMaxWorkers(2), WithDrainDelay(time.Millisecond), WithUnloadDelay(time.Hour))
	defer s.Close()

	units := newUnits(4)
	s.AddUnits(units, nil)

	require.Eventually(t, func() bool { return fe.active.Load() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 3, s.QueueLen())

	last := units[3]
	done := make(chan *unit.Handle, 1)
	go func() {
		h, err := unit.Acquire(context.Background(), last)
		assert.NoError(t, err)
		done <- h
	}()

	require.Eventually(t, func() bool { return fe.parseCount(last.Path()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), fe.active.Load(), "promoted past the drain limit")
	assert.Equal(t, 2, s.QueueLen())

	close(fe.gate)
	h := <-done
	require.NotNil(t, h)
	h.Release()
}

func TestScheduler_LoadFailureIsRetried(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	fe.failures["/src/u00.c"] = 1
	s := New(fe, WithMaxWorkers(2), WithDrainDelay(time.Millisecond), WithUnloadDelay(time.Hour))
	defer s.Close()

	u := newUnits(1)[0]
	s.AddUnits([]*unit.Unit{u}, nil)

	_, err := unit.Acquire(context.Background(), u)
	require.ErrorIs(t, err, unit.ErrLoadFailed)
	assert.Contains(t, err.Error(), "syntax error")
	assert.Equal(t, unit.AwaitingParsing, u.Phase())
	assert.Error(t, u.LastError())

	h, err := unit.Acquire(context.Background(), u)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, 2, fe.parseCount(u.Path()))
	assert.NoError(t, u.LastError())
}

func TestScheduler_ReparseWaitsForHandles(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe, WithMaxWorkers(2), WithUnloadDelay(time.Hour))
	defer s.Close()

	u := newUnits(1)[0]
	s.AddUnits([]*unit.Unit{u}, nil)

	h, err := unit.Acquire(context.Background(), u)
	require.NoError(t, err)

	s.Reparse(u)
	assert.True(t, u.HasFlag(unit.FlagStale))
	assert.Never(t, func() bool { return fe.reparseCount(u.Path()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	h.Release()
	require.Eventually(t, func() bool { return fe.reparseCount(u.Path()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, u.IsLoaded, time.Second, time.Millisecond)
	assert.False(t, u.HasFlag(unit.FlagStale))
	assert.Equal(t, 1, fe.parseCount(u.Path()))
}

func TestScheduler_ReparseOfSuspendedUnitParsesOnNextLoad(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe, WithMaxWorkers(2), WithUnloadDelay(10*time.Millisecond))
	defer s.Close()

	u := newUnits(1)[0]
	s.AddUnits([]*unit.Unit{u}, nil)
	h, err := unit.Acquire(context.Background(), u)
	require.NoError(t, err)
	h.Release()
	require.Eventually(t, func() bool { return u.Phase() == unit.Suspended }, time.Second, time.Millisecond)

	s.Reparse(u)
	assert.Equal(t, unit.Suspended, u.Phase(), "suspended units are not woken up")

	h, err = unit.Acquire(context.Background(), u)
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, 1, fe.reparseCount(u.Path()))
	assert.False(t, u.HasFlag(unit.FlagStale))
}

func TestScheduler_CustomLoaderFactory(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	var built atomic.Int32
	factory := LoaderFactoryFunc(func(u *unit.Unit) workers.Job {
		built.Add(1)
		return func(ctx context.Context) error {
			if _, ok := u.BeginParse(); !ok {
				return nil
			}
			u.CompleteLoad(&fakeParsed{path: u.Path() + ".custom"})
			return nil
		}
	})
	s := New(fe, WithLoaderFactory(factory), WithDrainDelay(time.Hour), WithUnloadDelay(time.Hour))
	defer s.Close()

	u := newUnits(1)[0]
	s.AddUnits([]*unit.Unit{u}, nil)
	h, err := unit.Acquire(context.Background(), u)
	require.NoError(t, err)
	defer h.Release()

	p, err := h.Parsed()
	require.NoError(t, err)
	assert.Equal(t, "/src/u00.c.custom", p.Path())
	assert.Equal(t, int32(1), built.Load())
	assert.Equal(t, 0, fe.totalParses())
}

func TestScheduler_CloseWaitsForJobs(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	fe.gate = make(chan struct{})
	s := New(fe, WithMaxWorkers(2), WithDrainDelay(time.Millisecond))

	units := newUnits(1)
	s.AddUnits(units, nil)
	require.Eventually(t, func() bool { return fe.active.Load() == 1 }, time.Second, time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a job was running")
	case <-time.After(30 * time.Millisecond):
	}
	close(fe.gate)
	<-closed

	assert.True(t, units[0].IsLoaded())
	s.Load(units[0])
	s.Reparse(units[0])
	s.Close()
}

func TestScheduler_ClosedSchedulerStartsNoJobs(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe)
	u := newUnits(1)[0]
	s.AddUnits([]*unit.Unit{u}, nil)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := unit.Acquire(ctx, u)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, fe.totalParses())
}
