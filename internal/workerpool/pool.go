// Package workerpool schedules background work, such as display geometry
// polling and resource sampling, on a fixed set of goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/breeze-rmm/streamhost/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work submitted to the pool.
type Task func()

// Pool runs tasks on a fixed number of goroutines fed from a bounded queue.
// Submissions never block: a full queue rejects the task.
type Pool struct {
	tasks chan Task

	// mu guards closed. Submit holds it shared while enqueueing so tasks can
	// be closed once closed is set under the exclusive lock.
	mu     sync.RWMutex
	closed bool

	pending   sync.WaitGroup
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts workers goroutines sharing a queue of queueLen tasks. Both are
// raised to one when smaller.
func New(workers, queueLen int) *Pool {
	workers = max(workers, 1)
	queueLen = max(queueLen, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan Task, queueLen),
		ctx:    ctx,
		cancel: cancel,
	}
	for range workers {
		go p.work()
	}
	log.Debug("scheduler started", "workers", workers, "queueLen", queueLen)
	return p
}

// Context is done once the pool has drained.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit queues task and reports whether it was accepted.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	p.pending.Add(1)
	select {
	case p.tasks <- task:
		return true
	default:
		p.pending.Done()
		log.Warn("scheduler queue full, dropping task")
		return false
	}
}

// StopAccepting makes every later Submit return false.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Drain refuses new tasks and waits for queued and running ones until ctx is
// done. The pool context is cancelled and the workers exit afterwards either
// way; tasks still queued at a timeout run before their worker exits.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()

	idle := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		log.Debug("scheduler drained")
	case <-ctx.Done():
		log.Warn("scheduler drain timed out", logging.KeyError, ctx.Err())
	}

	p.cancel()
	p.closeOnce.Do(func() { close(p.tasks) })
}

// Shutdown is StopAccepting followed by Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.StopAccepting()
	p.Drain(ctx)
}

func (p *Pool) work() {
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer p.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error("scheduled task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}
