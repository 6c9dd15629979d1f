// Package workers provides the bounded goroutine pool that runs parse and
// indexing jobs.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is reported by futures of jobs submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Job is a unit of work run by the pool.
type Job func(ctx context.Context) error

// Future is the one-shot completion of a submitted job.
type Future struct {
	done chan struct{}
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Done is closed when the job has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the job's error. It is only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool runs jobs on at most Size goroutines at a time. Jobs beyond the limit
// wait for a free slot.
type Pool struct {
	size     int
	sem      *semaphore.Weighted
	logger   *slog.Logger
	inFlight atomic.Int64
	running  atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool of size workers. A size below 1 is treated as 1.
func NewPool(size int, logger *slog.Logger) *Pool {
	size = max(size, 1)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

// Size returns the worker limit.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of jobs submitted and not yet finished,
// whether running or waiting for a slot.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Running returns the number of jobs currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Submit queues job and returns its future. ctx is handed to the job; it
// does not cancel the wait for a slot, so every accepted job runs.
func (p *Pool) Submit(ctx context.Context, job Job) *Future {
	f := newFuture()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		f.resolve(ErrPoolClosed)
		return f
	}
	p.wg.Add(1)
	p.inFlight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()

		// Background never fails to acquire.
		_ = p.sem.Acquire(context.Background(), 1)
		p.running.Add(1)
		err := p.run(ctx, job)
		p.running.Add(-1)
		p.sem.Release(1)

		// The slot is free before anyone waiting on the future wakes up.
		p.inFlight.Add(-1)
		f.resolve(err)
	}()
	return f
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			p.logger.Error("worker job panicked", "panic", r)
		}
	}()
	return job(ctx)
}

// Close rejects further submissions and waits for accepted jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
