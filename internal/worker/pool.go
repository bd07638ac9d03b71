package worker

import (
	"context"
	"sync"
)

// Task is a unit of work for the pool.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

// Pool manages a fixed set of worker goroutines draining a bounded task
// queue. Tasks are one-shot; a task that fails is not retried.
type Pool struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	workers  int
	tasks    chan Task
	queueCap int
}

// PoolStats holds monitoring information about the pool.
type PoolStats struct {
	Workers     int
	QueueLength int
}

// NewPool creates a Pool with the given number of workers and queue
// capacity. A non-positive queueCap falls back to a small default.
func NewPool(workers, queueCap int) *Pool {
	if queueCap <= 0 {
		queueCap = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:      ctx,
		cancel:   cancel,
		workers:  workers,
		tasks:    make(chan Task, queueCap),
		queueCap: queueCap,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
}

// Stop signals all workers to exit and waits for them to finish. In-flight
// tasks observe cancellation through their context.
func (p *Pool) Stop() {
	p.cancel()
	close(p.tasks)
	p.wg.Wait()
}

// Submit enqueues a task, returning false when the queue is full.
func (p *Pool) Submit(task Task) bool {
	select {
	case p.tasks <- task:
		return true
	default:
		return false // backpressure: queue is full
	}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int {
	return p.workers
}

// Stats returns current statistics about the pool.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:     p.workers,
		QueueLength: len(p.tasks),
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			_ = task.Run(p.ctx)
		}
	}
}
