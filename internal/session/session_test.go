package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/mvp-joe/tuindex/internal/graph"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Session:
// - A started session moves Idle -> Running -> Ready and publishes a snapshot
// - Start is a no-op unless Idle; a session runs at most once
// - The session holds its own handle until the run ends
// - Close during a run cancels it and drops the result
// - Start fails cleanly on an invalid handle or a closed pool
// - A traversal that panics still reaches Ready with an empty snapshot
// - Start after Close runs nothing and keeps no hold on the unit

type fakeParsed string

func (p fakeParsed) Path() string { return string(p) }

type fakeFrontend struct {
	indexCalls atomic.Int32
	gate       chan struct{}
	sawCancel  atomic.Bool
}

func (f *fakeFrontend) Parse(ctx context.Context, path string, opts *frontend.CompileOptions) (frontend.Parsed, error) {
	return fakeParsed(path), nil
}

func (f *fakeFrontend) Reparse(ctx context.Context, p frontend.Parsed) error { return nil }
func (f *fakeFrontend) Suspend(p frontend.Parsed) error                      { return nil }

func (f *fakeFrontend) Index(ctx context.Context, p frontend.Parsed, c frontend.Consumer) error {
	f.indexCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			f.sawCancel.Store(true)
			return ctx.Err()
		}
	}
	fn := frontend.EntityInfo{Kind: frontend.KindFunction, Name: "main", USR: "c:@F@main"}
	c.EnteredFile(p.Path())
	c.Declaration(frontend.Declaration{
		Entity:       fn,
		Loc:          frontend.Location{File: p.Path(), Line: 1, Col: 5},
		IsDefinition: true,
	})
	return nil
}

// panickingFrontend blows up part way through the traversal.
type panickingFrontend struct {
	fakeFrontend
}

func (f *panickingFrontend) Index(ctx context.Context, p frontend.Parsed, c frontend.Consumer) error {
	f.indexCalls.Add(1)
	c.EnteredFile(p.Path())
	time.Sleep(20 * time.Millisecond)
	panic("walker bug")
}

// loadedUnit returns a handle on a unit loaded without a scheduler.
func loadedUnit(t *testing.T, path string) (*unit.Unit, *unit.Handle) {
	t.Helper()
	u := unit.New(path)
	u.SetLoadProc(func(u *unit.Unit) error {
		if _, ok := u.BeginParse(); ok {
			u.CompleteLoad(fakeParsed(u.Path()))
		}
		return nil
	})
	h, err := unit.Acquire(context.Background(), u)
	require.NoError(t, err)
	return u, h
}

func TestSession_RunsToReady(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{}
	pool := workers.NewPool(2, nil)
	defer pool.Close()

	u, h := loadedUnit(t, "/src/main.c")
	s := New(fe, pool)
	assert.Equal(t, Idle, s.State())
	assert.Same(t, graph.Empty(), s.Snapshot())

	require.NoError(t, s.Start(h))
	h.Release()

	snap, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready, s.State())
	assert.Len(t, snap.Entities(), 1)
	assert.Same(t, snap, s.Snapshot())

	require.Eventually(t, func() bool { return u.UseCount() == 0 }, time.Second, time.Millisecond)
}

func TestSession_RunsAtMostOnce(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{}
	pool := workers.NewPool(2, nil)
	defer pool.Close()

	_, h := loadedUnit(t, "/src/main.c")
	defer h.Release()

	s := New(fe, pool)
	require.NoError(t, s.Start(h))
	require.NoError(t, s.Start(h))
	<-s.Ready()
	require.NoError(t, s.Start(h))

	assert.Equal(t, int32(1), fe.indexCalls.Load())
}

func TestSession_HoldsUnitWhileRunning(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{gate: make(chan struct{})}
	pool := workers.NewPool(1, nil)
	defer pool.Close()

	u, h := loadedUnit(t, "/src/main.c")
	s := New(fe, pool)
	require.NoError(t, s.Start(h))
	h.Release()

	assert.Equal(t, 1, u.UseCount())
	assert.Equal(t, Running, s.State())
	ok, err := u.Suspend(nil)
	require.NoError(t, err)
	assert.False(t, ok, "a running session keeps the unit loaded")

	close(fe.gate)
	<-s.Ready()
	require.Eventually(t, func() bool { return u.UseCount() == 0 }, time.Second, time.Millisecond)
}

func TestSession_CloseDropsResult(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{gate: make(chan struct{})}
	pool := workers.NewPool(1, nil)
	defer pool.Close()

	_, h := loadedUnit(t, "/src/main.c")
	defer h.Release()

	s := New(fe, pool)
	require.NoError(t, s.Start(h))
	require.Eventually(t, func() bool { return fe.indexCalls.Load() == 1 }, time.Second, time.Millisecond)

	s.Close()
	s.Close()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled session never finished")
	}
	assert.True(t, fe.sawCancel.Load())
	assert.Same(t, graph.Empty(), s.Snapshot())
	assert.NoError(t, s.Err())

	require.NoError(t, s.Start(h))
	assert.Equal(t, int32(1), fe.indexCalls.Load())
}

func TestSession_StartErrors(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{}
	pool := workers.NewPool(1, nil)

	_, h := loadedUnit(t, "/src/main.c")
	released, err := h.Clone()
	require.NoError(t, err)
	released.Release()

	s := New(fe, pool)
	require.ErrorIs(t, s.Start(released), unit.ErrInvalidHandle)
	assert.Equal(t, Idle, s.State())

	pool.Close()
	u := h.Unit()
	require.ErrorIs(t, s.Start(h), workers.ErrPoolClosed)
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, u.UseCount(), "rejected start gives its hold back")
	h.Release()
}

func TestSession_WaitHonoursContext(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{gate: make(chan struct{})}
	pool := workers.NewPool(1, nil)
	defer pool.Close()

	_, h := loadedUnit(t, "/src/main.c")
	defer h.Release()

	s := New(fe, pool)
	require.NoError(t, s.Start(h))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	snap, err := s.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Same(t, graph.Empty(), snap)

	close(fe.gate)
	<-s.Ready()
}

func TestSession_PanicStillReachesReady(t *testing.T) {
	t.Parallel()

	fe := &panickingFrontend{}
	pool := workers.NewPool(1, nil)
	defer pool.Close()

	u, h := loadedUnit(t, "/src/main.c")
	s := New(fe, pool)
	require.NoError(t, s.Start(h))
	h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "walker bug")
	assert.Equal(t, Ready, s.State())
	assert.Same(t, graph.Empty(), snap)

	require.Eventually(t, func() bool { return u.UseCount() == 0 }, time.Second, time.Millisecond)
}

func TestSession_StartAfterClose(t *testing.T) {
	t.Parallel()

	fe := &fakeFrontend{}
	pool := workers.NewPool(1, nil)
	defer pool.Close()

	u, h := loadedUnit(t, "/src/main.c")
	defer h.Release()

	s := New(fe, pool)
	s.Close()
	require.NoError(t, s.Start(h))
	assert.Equal(t, Idle, s.State())
	assert.Equal(t, 1, u.UseCount())
	assert.Equal(t, int32(0), fe.indexCalls.Load())
}

func TestSession_IDs(t *testing.T) {
	t.Parallel()

	a := New(&fakeFrontend{}, nil)
	b := New(&fakeFrontend{}, nil)
	assert.NotEqual(t, a.ID(), b.ID())
	_, err := uuid.Parse(a.ID())
	assert.NoError(t, err)
	assert.Equal(t, "ready", Ready.String())
}
