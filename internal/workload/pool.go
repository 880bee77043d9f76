// Package workload runs units of work as numbered iterations on bounded,
// shared worker pools.
package workload

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// ErrPoolShutdown is returned when work is offered to a pool after Shutdown.
var ErrPoolShutdown = eris.New("workload: pool has been shut down")

// Pool bounds how many tasks run at once across every scheduler sharing it.
type Pool struct {
	name string
	size int
	sem  *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	active sync.WaitGroup

	running atomic.Int64
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name: name,
		size: size,
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Name returns the pool's label.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int { return p.size }

// Running returns the number of tasks currently holding a slot.
func (p *Pool) Running() int { return int(p.running.Load()) }

// acquire blocks until a slot is free. It fails once the pool is shut down.
func (p *Pool) acquire(ctx context.Context) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPoolShutdown
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return eris.Wrapf(err, "workload: acquire slot in %s pool", p.name)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.sem.Release(1)
		return ErrPoolShutdown
	}
	p.active.Add(1)
	p.running.Add(1)
	return nil
}

func (p *Pool) release() {
	p.running.Add(-1)
	p.sem.Release(1)
	p.active.Done()
}

// Shutdown stops the pool accepting new work and returns at once. Tasks
// already holding a slot run to completion; use AwaitTermination to wait for
// them. Shutdown is terminal.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// IsShutdown reports whether Shutdown has been called.
func (p *Pool) IsShutdown() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// AwaitTermination blocks until every admitted task has finished or ctx is
// done.
func (p *Pool) AwaitTermination(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "workload: await termination of %s pool", p.name)
	}
}
