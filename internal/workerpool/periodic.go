package workerpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// Periodic is a task the pool runs every period until Cancel is called.
// Invocations never overlap: a tick that fires while the previous run is
// still queued or executing is skipped.
type Periodic struct {
	pool   *Pool
	period time.Duration
	task   Task

	mu        sync.Mutex
	idle      *sync.Cond
	cancelled bool
	running   bool

	pending atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

// Every schedules task on the pool every period, first firing one period
// from now.
func (p *Pool) Every(period time.Duration, task Task) *Periodic {
	if period <= 0 {
		period = time.Second
	}
	t := &Periodic{
		pool:   p,
		period: period,
		task:   task,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	t.idle = sync.NewCond(&t.mu)
	go t.loop()
	return t
}

// Cancel stops the schedule and blocks until no invocation is executing.
// Queued invocations that have not started yet become no-ops. Once Cancel
// returns the task is never run again. Cancel is idempotent; it must not be
// called from inside the task itself.
func (t *Periodic) Cancel() {
	t.mu.Lock()
	already := t.cancelled
	t.cancelled = true
	t.mu.Unlock()

	if !already {
		close(t.stop)
	}
	<-t.done

	t.mu.Lock()
	for t.running {
		t.idle.Wait()
	}
	t.mu.Unlock()
}

func (t *Periodic) loop() {
	defer close(t.done)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-t.pool.ctx.Done():
			return
		case <-ticker.C:
			if !t.pending.CompareAndSwap(false, true) {
				continue
			}
			if !t.pool.Submit(t.run) {
				t.pending.Store(false)
			}
		}
	}
}

func (t *Periodic) run() {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		t.pending.Store(false)
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		t.idle.Broadcast()
		t.pending.Store(false)
	}()
	t.task()
}
