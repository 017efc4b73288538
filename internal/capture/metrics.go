package capture

import (
	"sync"
	"time"
)

// Metrics tracks capture counters for a session. A nil *Metrics discards
// everything.
type Metrics struct {
	mu sync.RWMutex

	FramesCaptured   uint64
	CursorComposites uint64
	Timeouts         uint64
	Reinits          uint64

	LastSnapshotTime time.Duration
	startTime        time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordCapture(d time.Duration, cursor bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.FramesCaptured++
	if cursor {
		m.CursorComposites++
	}
	m.LastSnapshotTime = d
	m.mu.Unlock()
}

func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Timeouts++
	m.mu.Unlock()
}

func (m *Metrics) RecordReinit() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Reinits++
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging.
type MetricsSnapshot struct {
	FramesCaptured   uint64
	CursorComposites uint64
	Timeouts         uint64
	Reinits          uint64
	SnapshotMs       float64
	FPS              float64
	Uptime           time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	fps := float64(0)
	if uptime.Seconds() > 0 {
		fps = float64(m.FramesCaptured) / uptime.Seconds()
	}

	return MetricsSnapshot{
		FramesCaptured:   m.FramesCaptured,
		CursorComposites: m.CursorComposites,
		Timeouts:         m.Timeouts,
		Reinits:          m.Reinits,
		SnapshotMs:       float64(m.LastSnapshotTime.Microseconds()) / 1000.0,
		FPS:              fps,
		Uptime:           uptime,
	}
}
