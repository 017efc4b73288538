package capture

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const directName = "direct"

// directBackend pulls every frame with a plain GetImage request and checks
// the display extents on every snapshot.
type directBackend struct {
	backendBase
	conn Conn

	closeOnce sync.Once
	closeErr  error
}

func openDirect(deps Deps, cfg Config) (*directBackend, error) {
	conn, err := deps.Dialer.Dial()
	if err != nil {
		return nil, fatalInit(directName, fmt.Errorf("open display: %w", err))
	}
	b := &directBackend{conn: conn}
	if err := b.setup(directName, conn, deps, cfg); err != nil {
		conn.Close()
		return nil, fatalInit(directName, err)
	}
	return b, nil
}

func (b *directBackend) AllocImage() *FrameBuffer {
	return NewFrameBuffer(b.geom.Width, b.geom.Height)
}

// Snapshot re-reads the display extents, then points buf at the pixels the
// server returned for the crop region. The server's reported width, height
// and pitches are kept as is.
func (b *directBackend) Snapshot(buf *FrameBuffer, _ time.Duration, cursor bool) Status {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()

	if err := b.monitor.Refresh(); err != nil {
		return b.fail(err)
	}
	if b.monitor.Drifted() {
		return StatusReinit
	}

	img, err := b.conn.GetImage(b.geom.Crop())
	if err != nil {
		return b.fail(fmt.Errorf("get image: %w", err))
	}
	buf.Borrow(img)
	if !buf.Valid() {
		buf.Release()
		return b.fail(fmt.Errorf("get image: short reply for %dx%d", img.Width, img.Height))
	}

	if cursor {
		b.compositeCursor(b.conn, buf)
	}
	return StatusOK
}

// Prime performs one full synchronous pull.
func (b *directBackend) Prime(buf *FrameBuffer) Status {
	return b.Snapshot(buf, 0, false)
}

func (b *directBackend) Run(fn FrameFunc, buf *FrameBuffer, cursor *atomic.Bool) Status {
	return b.pacer.Run(b, fn, buf, cursor)
}

func (b *directBackend) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}
