// Package pool implements the bounded worker pool PickAndExecute jobs
// run on. Submission is unbounded (each job gets its own errgroup
// goroutine, which waits on the semaphore); concurrency is bounded by a
// weighted semaphore, the same mechanism the teacher uses for WithLimiter.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrShuttingDown is returned by Submit once Shutdown has been called.
// Jobs submitted after shutdown is requested are discarded without
// running.
var ErrShuttingDown = errors.New("worker pool is shutting down")

// Job is a unit of work submitted to the pool.
type Job func()

// Pool bounds how many Jobs run concurrently and drains in-flight work
// on Shutdown.
type Pool struct {
	sem *semaphore.Weighted

	mu       sync.Mutex
	shutdown bool
	group    *errgroup.Group
	groupCtx context.Context
}

// New creates a Pool that runs at most size Jobs concurrently.
func New(size int64) *Pool {
	group, ctx := errgroup.WithContext(context.Background())
	return &Pool{
		sem:      semaphore.NewWeighted(size),
		group:    group,
		groupCtx: ctx,
	}
}

// Submit queues job for execution. It blocks only long enough to hand
// the job off; the semaphore acquire that bounds actual concurrency
// happens on a background goroutine so Submit never blocks the caller
// (the due-poller) on pool saturation.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	group := p.group
	p.mu.Unlock()

	group.Go(func() error {
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return nil
		}
		defer p.sem.Release(1)
		job()
		return nil
	})
	return nil
}

// Shutdown stops accepting new submissions and waits up to wait for
// in-flight jobs to finish. Returns false if the timeout elapsed with
// jobs still running.
func (p *Pool) Shutdown(wait time.Duration) bool {
	p.mu.Lock()
	p.shutdown = true
	group := p.group
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(wait):
		return false
	}
}
