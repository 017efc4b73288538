package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamhost/internal/logging"
	"github.com/breeze-rmm/streamhost/internal/procstat"
)

// Consumer receives the frames of a Session.
type Consumer interface {
	// Configure is called each time a backend is opened, before its first
	// frame.
	Configure(surface DeviceSurface, geom Geometry) error
	// Frame handles a captured frame and returns the buffer to capture the
	// next frame into, or nil to end the session.
	Frame(frame *FrameBuffer) *FrameBuffer
}

// StatsSampler reports process resource usage for the periodic stats log.
type StatsSampler interface {
	Sample() (*procstat.Stats, error)
}

// Session streams one output to a Consumer, rebuilding the backend whenever
// the display geometry changes.
type Session struct {
	ID       string
	Deps     Deps
	Config   Config
	Consumer Consumer
	// Cursor toggles cursor compositing while running. Nil disables it.
	Cursor *atomic.Bool
	Format PixelFormat
	// Nice is applied to the capture thread when non-zero.
	Nice int
	// ReinitDelay is waited between tearing a backend down and opening the
	// next one.
	ReinitDelay   time.Duration
	StatsInterval time.Duration
	Stats         StatsSampler
}

// Run blocks until the consumer stops, ctx is cancelled (checked between
// frames) or capture fails. A stop by the consumer or by ctx returns nil.
func (s *Session) Run(ctx context.Context) error {
	log := s.Deps.logger().With(logging.KeySession, s.ID)
	deps := s.Deps
	deps.Logger = log
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}

	if s.StatsInterval > 0 && deps.Pool != nil {
		stats := deps.Pool.Every(s.StatsInterval, func() { s.logStats(log, deps.Metrics) })
		defer stats.Cancel()
	}

	unpin, err := pinCaptureThread(s.Nice)
	defer unpin()
	if err != nil {
		log.Warn("could not set capture thread priority", logging.KeyError, err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		status, err := s.runBackend(ctx, deps, log)
		if err != nil {
			return err
		}
		if status != StatusReinit {
			return nil
		}

		deps.Metrics.RecordReinit()
		log.Warn("display geometry changed, renegotiating capture")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.ReinitDelay):
		}
	}
}

func (s *Session) runBackend(ctx context.Context, deps Deps, log *slog.Logger) (Status, error) {
	b, err := Open(deps, s.Config)
	if err != nil {
		log.Error("capture init failed", logging.KeyError, err)
		return StatusError, err
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn("capture backend close failed", logging.KeyBackend, b.Name(), logging.KeyError, err)
		}
	}()

	geom := b.Geometry()
	if err := s.Consumer.Configure(b.MakeDeviceSurface(s.Format), geom); err != nil {
		return StatusError, fmt.Errorf("configure consumer for %s: %w", geom, err)
	}

	buf := b.AllocImage()
	defer func() { buf.Release() }()

	switch b.Prime(buf) {
	case StatusReinit:
		return StatusReinit, nil
	case StatusError:
		return StatusError, fmt.Errorf("%s backend: prime failed: %w", b.Name(), b.Err())
	}

	start := time.Now()
	status := b.Run(func(frame *FrameBuffer) *FrameBuffer {
		if ctx.Err() != nil {
			return nil
		}
		next := s.Consumer.Frame(frame)
		if next != nil {
			buf = next
		}
		return next
	}, buf, s.Cursor)

	log.Info("capture stopped",
		logging.KeyBackend, b.Name(),
		logging.KeyStatus, status.String(),
		logging.KeyDurationMs, time.Since(start).Milliseconds())

	if status == StatusError {
		err := fmt.Errorf("%s backend: capture failed: %w", b.Name(), b.Err())
		log.Error("capture session terminated", logging.KeyError, err)
		return status, err
	}
	return status, nil
}

func (s *Session) logStats(log *slog.Logger, m *Metrics) {
	snap := m.Snapshot()
	attrs := []any{
		"frames", snap.FramesCaptured,
		"fps", fmt.Sprintf("%.1f", snap.FPS),
		"snapshotMs", snap.SnapshotMs,
		"cursorFrames", snap.CursorComposites,
		"timeouts", snap.Timeouts,
		"reinits", snap.Reinits,
		"uptime", snap.Uptime.Round(time.Second).String(),
	}
	if s.Stats != nil {
		if ps, err := s.Stats.Sample(); err == nil {
			attrs = append(attrs, "cpuPercent", fmt.Sprintf("%.1f", ps.CPUPercent), "rssMb", ps.RSSMB)
		} else {
			log.Debug("process stats unavailable", logging.KeyError, err)
		}
	}
	log.Info("capture stats", attrs...)
}
