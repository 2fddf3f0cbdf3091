// ABOUTME: Bounded background worker pool for chores and tasks
// ABOUTME: Submit never blocks the caller; capacity gates execution

package task

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs background jobs with bounded parallelism. Request threads
// enqueue and return immediately; the semaphore holds excess jobs until a
// worker slot frees up.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a pool with the given worker count.
func NewPool(workers int64) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(workers)}
}

// Submit schedules a job and returns immediately.
func (p *Pool) Submit(job func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		// Background context: started jobs run to completion.
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		job()
	}()
}

// Wait blocks until every submitted job has finished. Used on shutdown and
// in tests.
func (p *Pool) Wait() {
	p.wg.Wait()
}
