package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferredCall_CoalescesBurst(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	d := newDeferredCall(30*time.Millisecond, func() { runs.Add(1) })
	defer d.Stop()

	for range 20 {
		d.Schedule()
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)

	// Nothing else was pending.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestDeferredCall_ScheduleDuringRunGetsAnotherPass(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	d := newDeferredCall(5*time.Millisecond, func() {
		if runs.Add(1) == 1 {
			close(entered)
			<-release
		}
	})
	defer d.Stop()

	d.Schedule()
	<-entered
	d.Schedule()
	d.Schedule()
	close(release)

	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), runs.Load())
}

func TestDeferredCall_StopCancelsPendingRun(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	d := newDeferredCall(time.Hour, func() { runs.Add(1) })
	d.Schedule()

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for the pending timer")
	}

	d.Schedule()
	assert.Equal(t, int32(0), runs.Load())
}

func TestScheduler_CloseDoesNotWaitForDebounce(t *testing.T) {
	t.Parallel()

	fe := newFakeFrontend()
	s := New(fe, WithMaxWorkers(2), WithDrainDelay(time.Hour), WithUnloadDelay(time.Hour))
	s.AddUnits(newUnits(3), nil)
	s.unload.Schedule()

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a pending debounce timer")
	}
	assert.Equal(t, 3, s.QueueLen(), "the drain never ran")
}
