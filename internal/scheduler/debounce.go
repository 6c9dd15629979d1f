package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// deferredCall runs fn once after delay, coalescing every Schedule made
// while a run is pending. Runs of fn never overlap.
type deferredCall struct {
	delay time.Duration
	fn    func()

	pending atomic.Bool
	runMu   sync.Mutex

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	wg      sync.WaitGroup
}

func newDeferredCall(delay time.Duration, fn func()) *deferredCall {
	return &deferredCall{delay: delay, fn: fn}
}

// Schedule arranges for fn to run after the delay unless a run is already
// pending.
func (d *deferredCall) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || !d.pending.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	d.timer = time.AfterFunc(d.delay, d.run)
}

func (d *deferredCall) run() {
	defer d.wg.Done()

	// Clear first so that a Schedule made while fn runs gets its own pass.
	d.pending.Store(false)

	d.mu.Lock()
	stopped := d.stopped
	d.mu.Unlock()
	if stopped {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()
	d.fn()
}

// Stop cancels the pending run, if any, and waits for a run already in
// progress to return.
func (d *deferredCall) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.timer != nil && d.timer.Stop() {
		// The timer never fired, so run will not call Done.
		d.pending.Store(false)
		d.wg.Done()
	}
	d.timer = nil
	d.mu.Unlock()
	d.wg.Wait()
}
