package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamhost/internal/logging"
	"github.com/breeze-rmm/streamhost/internal/workerpool"
)

const sharedName = "shm"

// sharedBackend has the server write frames into a shared segment and copies
// them out. It keeps three connections: conn for geometry (polled in the
// background), capture for the segment and cursor for the cursor query.
// Snapshots only compare the last polled extents against the baseline.
type sharedBackend struct {
	backendBase
	conn    Conn
	capture SharedMemoryConn
	cursor  Conn
	segment Segment
	refresh *workerpool.Periodic

	closeOnce sync.Once
	closeErr  error
}

func openShared(deps Deps, cfg Config) (*sharedBackend, error) {
	if deps.Pool == nil {
		return nil, nonFatalInit(sharedName, errors.New("no scheduler for geometry refresh"))
	}

	conn, err := deps.Dialer.Dial()
	if err != nil {
		return nil, fatalInit(sharedName, fmt.Errorf("open display: %w", err))
	}
	b := &sharedBackend{conn: conn}
	if err := b.setup(sharedName, conn, deps, cfg); err != nil {
		conn.Close()
		return nil, fatalInit(sharedName, err)
	}

	if err := b.attach(deps); err != nil {
		b.release()
		return nil, nonFatalInit(sharedName, err)
	}

	b.refresh = deps.Pool.Every(cfg.refreshInterval(), b.refreshGeometry)
	return b, nil
}

func (b *sharedBackend) attach(deps Deps) error {
	conn, err := deps.Dialer.Dial()
	if err != nil {
		return fmt.Errorf("open capture connection: %w", err)
	}
	capture, ok := conn.(SharedMemoryConn)
	if !ok {
		conn.Close()
		return ErrSharedMemoryUnavailable
	}
	b.capture = capture

	seg, err := capture.AttachSegment(b.frameSize())
	if err != nil {
		return fmt.Errorf("attach segment: %w", err)
	}
	b.segment = seg

	cursor, err := deps.Dialer.Dial()
	if err != nil {
		return fmt.Errorf("open cursor connection: %w", err)
	}
	b.cursor = cursor
	return nil
}

func (b *sharedBackend) frameSize() int {
	return b.geom.Width * b.geom.Height * 4
}

func (b *sharedBackend) refreshGeometry() {
	if err := b.monitor.Refresh(); err != nil {
		b.log.Debug("geometry refresh failed", logging.KeyError, err)
	}
}

// AllocImage returns an owned buffer the segment is copied into.
func (b *sharedBackend) AllocImage() *FrameBuffer {
	return NewFrameBuffer(b.geom.Width, b.geom.Height)
}

func (b *sharedBackend) Snapshot(buf *FrameBuffer, _ time.Duration, cursor bool) Status {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()

	if b.monitor.Drifted() {
		return StatusReinit
	}
	if err := b.segment.Fill(b.geom.Crop()); err != nil {
		return b.fail(fmt.Errorf("shm get image: %w", err))
	}

	buf.Own(b.geom.Width, b.geom.Height)
	copy(buf.Data, b.segment.Bytes()[:b.frameSize()])

	if cursor {
		b.compositeCursor(b.cursor, buf)
	}
	return StatusOK
}

// Prime is a no-op; the first paced snapshot fills the buffer.
func (b *sharedBackend) Prime(*FrameBuffer) Status {
	return StatusOK
}

func (b *sharedBackend) Run(fn FrameFunc, buf *FrameBuffer, cursor *atomic.Bool) Status {
	return b.pacer.Run(b, fn, buf, cursor)
}

// Close stops the geometry refresh, waiting for a running refresh to finish,
// then detaches the segment and closes every connection.
func (b *sharedBackend) Close() error {
	b.closeOnce.Do(func() {
		if b.refresh != nil {
			b.refresh.Cancel()
		}
		b.closeErr = b.release()
	})
	return b.closeErr
}

func (b *sharedBackend) release() error {
	var errs []error
	if b.segment != nil {
		errs = append(errs, b.segment.Close())
	}
	if b.capture != nil {
		errs = append(errs, b.capture.Close())
	}
	if b.cursor != nil {
		errs = append(errs, b.cursor.Close())
	}
	errs = append(errs, b.conn.Close())
	return errors.Join(errs...)
}
