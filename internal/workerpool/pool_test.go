package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func shutdown(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Shutdown(ctx)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestShutdownRunsQueuedTasks(t *testing.T) {
	for _, workers := range []int{1, 3} {
		p := New(workers, 16)
		var ran atomic.Int32
		for i := range 8 {
			if !p.Submit(func() {
				time.Sleep(time.Millisecond)
				ran.Add(1)
			}) {
				t.Fatalf("workers=%d: task %d rejected", workers, i)
			}
		}
		shutdown(t, p)
		if got := ran.Load(); got != 8 {
			t.Errorf("workers=%d: ran %d tasks, want 8", workers, got)
		}
	}
}

func TestSubmitRejected(t *testing.T) {
	t.Run("after shutdown", func(t *testing.T) {
		p := New(1, 1)
		shutdown(t, p)
		if p.Submit(func() {}) {
			t.Fatal("accepted a task after Shutdown")
		}
	})

	t.Run("after drain alone", func(t *testing.T) {
		p := New(1, 4)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Drain(ctx)
		if p.Submit(func() {}) {
			t.Fatal("accepted a task after Drain")
		}
	})

	t.Run("after stop accepting", func(t *testing.T) {
		p := New(1, 4)
		p.StopAccepting()
		if p.Submit(func() {}) {
			t.Fatal("accepted a task after StopAccepting")
		}
		shutdown(t, p)
	})

	t.Run("queue full", func(t *testing.T) {
		p := New(1, 1)
		release := make(chan struct{})
		var busy atomic.Bool
		p.Submit(func() {
			busy.Store(true)
			<-release
		})
		waitFor(t, "worker to pick up the blocking task", busy.Load)

		if !p.Submit(func() {}) {
			t.Fatal("queue slot rejected")
		}
		if p.Submit(func() {}) {
			t.Fatal("accepted a task with the queue full")
		}
		close(release)
		shutdown(t, p)
	})
}

func TestContextDoneAfterShutdown(t *testing.T) {
	p := New(2, 4)
	ctx := p.Context()
	if ctx.Err() != nil {
		t.Fatal("context done before shutdown")
	}
	shutdown(t, p)
	if ctx.Err() == nil {
		t.Fatal("context still live after shutdown")
	}
}

func TestDrainGivesUpAtDeadline(t *testing.T) {
	p := New(1, 4)
	release := make(chan struct{})
	defer close(release)
	p.Submit(func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	p.Drain(ctx)
	if took := time.Since(start); took > time.Second {
		t.Fatalf("Drain took %v with a 50ms deadline", took)
	}
	if p.Context().Err() == nil {
		t.Fatal("context not cancelled after timed out drain")
	}
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	p := New(1, 4)
	var after atomic.Bool
	p.Submit(func() { panic("geometry probe exploded") })
	p.Submit(func() { after.Store(true) })
	shutdown(t, p)
	if !after.Load() {
		t.Fatal("task queued behind a panic never ran")
	}
}

func TestEvery(t *testing.T) {
	p := New(1, 4)
	defer shutdown(t, p)

	var n atomic.Int32
	tick := p.Every(2*time.Millisecond, func() { n.Add(1) })
	waitFor(t, "three periodic runs", func() bool { return n.Load() >= 3 })
	tick.Cancel()

	frozen := n.Load()
	time.Sleep(20 * time.Millisecond)
	if got := n.Load(); got != frozen {
		t.Fatalf("periodic task ran after Cancel: %d -> %d", frozen, got)
	}
	tick.Cancel()
}

func TestEveryDefaultsPeriod(t *testing.T) {
	p := New(1, 1)
	defer shutdown(t, p)
	tick := p.Every(0, func() {})
	if tick.period != time.Second {
		t.Fatalf("period = %v, want 1s", tick.period)
	}
	tick.Cancel()
}

func TestCancelBlocksOnRunningInvocation(t *testing.T) {
	p := New(1, 4)
	defer shutdown(t, p)

	entered := make(chan struct{})
	var once sync.Once
	var done atomic.Bool
	tick := p.Every(time.Millisecond, func() {
		once.Do(func() { close(entered) })
		time.Sleep(30 * time.Millisecond)
		done.Store(true)
	})

	<-entered
	tick.Cancel()
	if !done.Load() {
		t.Fatal("Cancel returned mid-invocation")
	}
}

func TestPeriodicNeverOverlaps(t *testing.T) {
	p := New(4, 8)
	defer shutdown(t, p)

	var running, worst atomic.Int32
	tick := p.Every(time.Millisecond, func() {
		cur := running.Add(1)
		for {
			w := worst.Load()
			if cur <= w || worst.CompareAndSwap(w, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
	})
	time.Sleep(40 * time.Millisecond)
	tick.Cancel()

	if got := worst.Load(); got != 1 {
		t.Fatalf("max concurrent invocations = %d, want 1", got)
	}
}

func TestCancelAfterPoolShutdown(t *testing.T) {
	p := New(1, 4)
	tick := p.Every(time.Millisecond, func() {})
	shutdown(t, p)

	done := make(chan struct{})
	go func() {
		tick.Cancel()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cancel hung after the pool shut down")
	}
}
