package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/streamhost/internal/logging"
)

// Backend is one acquisition strategy opened on one output.
type Backend interface {
	// Name identifies the backend in logs and errors ("shm" or "direct").
	Name() string
	// Geometry is the streamed region and the baseline display extents.
	Geometry() Geometry
	// AllocImage returns a buffer laid out for this backend's snapshots.
	AllocImage() *FrameBuffer
	// Snapshot captures one frame into buf. The timeout is advisory: the
	// underlying display request may block longer.
	Snapshot(buf *FrameBuffer, timeout time.Duration, cursor bool) Status
	// Prime fills buf ahead of the first paced frame on a best-effort basis.
	Prime(buf *FrameBuffer) Status
	// MakeDeviceSurface returns the encoder hand-off descriptor for the
	// configured memory strategy.
	MakeDeviceSurface(format PixelFormat) DeviceSurface
	// Run paces Snapshot and delivers frames to fn. See Pacer.Run.
	Run(fn FrameFunc, buf *FrameBuffer, cursor *atomic.Bool) Status
	// Err is the cause of the last StatusError, if any.
	Err() error
	Close() error
}

// PixelFormat is the layout the encoder expects on its device surface.
type PixelFormat int

const (
	PixelFormatBGR0 PixelFormat = iota
	PixelFormatNV12
	PixelFormatYUV420
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBGR0:
		return "bgr0"
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatYUV420:
		return "yuv420p"
	default:
		return "unknown"
	}
}

// DeviceSurface describes where the encoder should expect frames. For
// MemorySystem it is a placeholder; the encoder uploads from FrameBuffer.
type DeviceSurface struct {
	Memory MemoryStrategy
	Format PixelFormat
	Width  int
	Height int
}

// Hardware reports whether the surface is GPU-backed.
func (d DeviceSurface) Hardware() bool {
	return d.Memory.GPU()
}

// backendBase holds what both backends share: geometry, pacing, the cursor
// connection and snapshot serialization.
type backendBase struct {
	name    string
	label   string
	memory  MemoryStrategy
	geom    Geometry
	monitor *GeometryMonitor
	pacer   *Pacer
	log     *slog.Logger

	// snapMu keeps at most one snapshot in flight.
	snapMu  sync.Mutex
	lastErr atomic.Pointer[error]
}

func (b *backendBase) Name() string       { return b.name }
func (b *backendBase) Geometry() Geometry { return b.geom }

func (b *backendBase) MakeDeviceSurface(format PixelFormat) DeviceSurface {
	return DeviceSurface{Memory: b.memory, Format: format, Width: b.geom.Width, Height: b.geom.Height}
}

func (b *backendBase) Err() error {
	if p := b.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (b *backendBase) fail(err error) Status {
	b.lastErr.Store(&err)
	b.log.Error("snapshot failed", logging.KeyError, err)
	return StatusError
}

// compositeCursor blends the current cursor from conn onto buf. A failed
// cursor query leaves the frame as captured.
func (b *backendBase) compositeCursor(conn Conn, buf *FrameBuffer) {
	cur, err := conn.CursorImage()
	if err != nil {
		b.log.Debug("cursor query failed", logging.KeyError, err)
		return
	}
	BlendCursor(buf, cur, b.geom.OffsetX, b.geom.OffsetY)
}
