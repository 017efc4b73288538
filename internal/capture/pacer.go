package capture

import (
	"sync/atomic"
	"time"
)

// Clock is the time source of the pacer.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the monotonic wall clock.
var SystemClock Clock = systemClock{}

// Snapshotter produces one frame into buf.
type Snapshotter interface {
	Snapshot(buf *FrameBuffer, timeout time.Duration, cursor bool) Status
}

// FrameFunc receives a captured frame and returns the buffer to capture the
// next frame into, usually the same one. Returning nil stops the capture.
type FrameFunc func(frame *FrameBuffer) *FrameBuffer

// Pacer drives a Snapshotter at a fixed frame interval.
type Pacer struct {
	Interval time.Duration
	// Timeout is passed to every Snapshot. Zero means SnapshotTimeout.
	Timeout time.Duration
	Clock   Clock
	Metrics *Metrics
}

// Run captures frames until fn returns nil (StatusOK) or the snapshotter
// reports StatusReinit or StatusError. cursor is read before every frame and
// may be flipped by another goroutine; nil means no cursor.
//
// Each tick sleeps two thirds of the time left to the deadline and spins on
// the clock for the rest. Deadlines advance by a fixed interval from the
// previous deadline; after a stall longer than one interval the schedule is
// re-anchored to now instead of bursting to catch up.
func (p *Pacer) Run(s Snapshotter, fn FrameFunc, buf *FrameBuffer, cursor *atomic.Bool) Status {
	clock := p.Clock
	if clock == nil {
		clock = SystemClock
	}
	interval := p.Interval
	if interval <= 0 {
		interval = Config{}.interval()
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = SnapshotTimeout
	}

	next := clock.Now()
	for {
		now := clock.Now()
		if remaining := next.Sub(now); remaining > 0 {
			clock.Sleep(remaining * 2 / 3)
			for clock.Now().Before(next) {
			}
		} else if -remaining > interval {
			next = now
		}
		next = next.Add(interval)

		withCursor := cursor != nil && cursor.Load()
		start := clock.Now()
		status := s.Snapshot(buf, timeout, withCursor)
		switch status {
		case StatusReinit, StatusError:
			return status
		case StatusTimeout:
			p.Metrics.RecordTimeout()
			clock.Sleep(time.Millisecond)
			continue
		}

		p.Metrics.RecordCapture(clock.Now().Sub(start), withCursor)
		if buf = fn(buf); buf == nil {
			return StatusOK
		}
	}
}
