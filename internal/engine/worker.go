package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when a run is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("run pool is shut down")

// PoolMetrics is a snapshot of run pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// runTask pairs a submitted run with the context it was submitted under.
type runTask struct {
	ctx context.Context
	fn  func(ctx context.Context) error
}

// RunPool executes workflow instances on a fixed set of worker goroutines.
// The task channel is unbuffered, so Submit blocks as soon as every worker
// is busy; a burst of due scheduler jobs cannot fork an unbounded number of
// collaborator processes.
type RunPool struct {
	tasks   chan runTask
	quit    chan struct{}
	workers sync.WaitGroup

	mu       sync.Mutex
	drained  sync.Cond
	inflight int
	closed   bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewRunPool starts size worker goroutines.
func NewRunPool(size int) *RunPool {
	if size <= 0 {
		size = 1
	}
	p := &RunPool{
		tasks: make(chan runTask),
		quit:  make(chan struct{}),
	}
	p.drained.L = &p.mu
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

func (p *RunPool) work() {
	defer p.workers.Done()
	for task := range p.tasks {
		p.runOne(task)
		p.retire()
	}
}

func (p *RunPool) runOne(task runTask) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
		p.active.Add(-1)
	}()

	if err := task.fn(task.ctx); err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
}

// retire releases one inflight slot and wakes waiters once the pool drains.
func (p *RunPool) retire() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 {
		p.drained.Broadcast()
	}
	p.mu.Unlock()
}

// Submit hands a run to a worker. It blocks while every worker is busy,
// honouring context cancellation and pool shutdown while waiting.
func (p *RunPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.inflight++
	p.mu.Unlock()

	select {
	case p.tasks <- runTask{ctx: ctx, fn: fn}:
		return nil
	case <-ctx.Done():
		p.retire()
		return ctx.Err()
	case <-p.quit:
		p.retire()
		return ErrPoolShutdown
	}
}

// Wait blocks until every submitted run has finished.
func (p *RunPool) Wait() {
	p.mu.Lock()
	for p.inflight > 0 {
		p.drained.Wait()
	}
	p.mu.Unlock()
}

// Shutdown rejects further submissions, waits for in-flight runs to finish
// and stops the workers.
func (p *RunPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.quit)
	p.Wait()
	close(p.tasks)
	p.workers.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *RunPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
