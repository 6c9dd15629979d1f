package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for FileWatcher:
// - New succeeds on valid directories and fails on a missing one
// - Rapid changes to one file coalesce into a single sorted batch
// - Pause accumulates events and Resume fires them immediately
// - New subdirectories are watched
// - Extension filter and ignore patterns drop events
// - Stop is idempotent and works without Start
// - Start rejects a nil callback

type batches struct {
	mu    sync.Mutex
	got   [][]string
	fired chan struct{}
}

func newBatches() *batches {
	return &batches{fired: make(chan struct{}, 16)}
}

func (b *batches) callback(files []string) {
	b.mu.Lock()
	b.got = append(b.got, files)
	b.mu.Unlock()
	b.fired <- struct{}{}
}

func (b *batches) wait(t *testing.T) {
	t.Helper()
	select {
	case <-b.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback not called after timeout")
	}
}

func (b *batches) snapshot() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.got...)
}

func startWatcher(t *testing.T, dir string, opts ...Option) (*FileWatcher, *batches) {
	t.Helper()
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	fw, err := New([]string{dir}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fw.Stop() })

	b := newBatches()
	require.NoError(t, fw.Start(context.Background(), b.callback))
	time.Sleep(50 * time.Millisecond)
	return fw, b
}

func TestNew_InvalidDirectory(t *testing.T) {
	t.Parallel()

	fw, err := New([]string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	assert.Nil(t, fw)
}

func TestFileWatcher_DebouncesIntoSortedBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, b := startWatcher(t, dir, WithExtensions(".c", ".h"))

	a := filepath.Join(dir, "b.c")
	h := filepath.Join(dir, "a.h")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(a, []byte("int x;\n"), 0644))
	}
	require.NoError(t, os.WriteFile(h, []byte("int y;\n"), 0644))

	b.wait(t)
	time.Sleep(200 * time.Millisecond)

	got := b.snapshot()
	require.Len(t, got, 1, "one batch for a burst of writes")
	assert.Equal(t, []string{h, a}, got[0])
}

func TestFileWatcher_PauseResume(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fw, b := startWatcher(t, dir)

	fw.Pause()
	path := filepath.Join(dir, "paused.c")
	require.NoError(t, os.WriteFile(path, []byte("int x;\n"), 0644))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, b.snapshot(), "no callbacks while paused")

	fw.Resume()
	b.wait(t)
	assert.Equal(t, []string{path}, b.snapshot()[0])
}

func TestFileWatcher_WatchesNewDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, b := startWatcher(t, dir, WithExtensions(".c"))

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "new.c")
	require.NoError(t, os.WriteFile(path, []byte("int x;\n"), 0644))

	b.wait(t)
	assert.Contains(t, b.snapshot()[0], path)
}

func TestFileWatcher_Filters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "build"), 0755))
	_, b := startWatcher(t, dir, WithExtensions(".c"), WithIgnore("build/**"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build", "gen.c"), []byte("x"), 0644))
	kept := filepath.Join(dir, "kept.c")
	require.NoError(t, os.WriteFile(kept, []byte("int x;\n"), 0644))

	b.wait(t)
	assert.Equal(t, []string{kept}, b.snapshot()[0])
}

func TestFileWatcher_Stop(t *testing.T) {
	t.Parallel()

	fw, err := New([]string{t.TempDir()})
	require.NoError(t, err)
	assert.Error(t, fw.Start(context.Background(), nil))
	require.NoError(t, fw.Stop(), "stop without start")
	assert.NoError(t, fw.Stop(), "second stop is a no-op")

	fw, err = New([]string{t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, fw.Start(context.Background(), func([]string) {}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fw.Stop()
		}()
	}
	wg.Wait()
}
