package capture

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/breeze-rmm/streamhost/internal/workerpool"
)

func newTestPool(t *testing.T) *workerpool.Pool {
	t.Helper()
	p := workerpool.New(2, 8)
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return p
}

func openTest(t *testing.T, d *fakeDisplay, pool *workerpool.Pool, cfg Config) Backend {
	t.Helper()
	b, err := Open(Deps{Dialer: d, Pool: pool, Clock: newVirtualClock()}, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpenPrefersSharedMemory(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs})

	if b.Name() != "shm" {
		t.Fatalf("backend = %q, want shm", b.Name())
	}
	if got := d.dials.Load(); got != 3 {
		t.Fatalf("shm backend dialed %d connections, want 3", got)
	}
}

func TestOpenFallsBackToDirect(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeDisplay)
		pool  bool
	}{
		{name: "no shm extension", setup: func(d *fakeDisplay) { d.noShm = true }, pool: true},
		{name: "attach fails", setup: func(d *fakeDisplay) {
			d.attachErr = errors.New("shmget: no space left on device")
		}, pool: true},
		{name: "no scheduler", setup: func(*fakeDisplay) {}, pool: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDisplay(1920, 1080)
			tt.setup(d)
			var pool *workerpool.Pool
			if tt.pool {
				pool = newTestPool(t)
			}
			b := openTest(t, d, pool, Config{Output: AllOutputs})

			if b.Name() != "direct" {
				t.Fatalf("backend = %q, want direct", b.Name())
			}
			// Everything the failed shm attempt opened has been closed.
			if open := d.openConns(); open != 1 {
				t.Fatalf("%d connections open, want only the direct one", open)
			}
		})
	}
}

func TestOpenFailsWhenDirectFails(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	d.noShm = true
	d.failDialsFrom = 3 // shm uses dials 1 and 2, direct's dial fails

	b, err := Open(Deps{Dialer: d, Pool: newTestPool(t)}, Config{Output: AllOutputs})
	if b != nil {
		t.Fatal("expected no backend")
	}
	var ie *InitError
	if !errors.As(err, &ie) || ie.Backend != "direct" || !ie.Fatal {
		t.Fatalf("err = %v, want fatal direct init error", err)
	}
}

func TestOpenFatalSkipsFallback(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	d.failDialsFrom = 1

	_, err := Open(Deps{Dialer: d, Pool: newTestPool(t)}, Config{Output: AllOutputs})
	if !IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if got := d.dials.Load(); got != 1 {
		t.Fatalf("dialed %d times, want 1 (no fallback after fatal)", got)
	}
}

func TestOpenRejectsUnknownMemory(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	_, err := Open(Deps{Dialer: d}, Config{Memory: MemoryStrategy(42)})
	if !errors.Is(err, ErrUnsupportedMemory) {
		t.Fatalf("err = %v, want ErrUnsupportedMemory", err)
	}
	if d.dials.Load() != 0 {
		t.Fatal("display dialed for an unsupported memory strategy")
	}
}

func TestOutputOutOfRangeDistinctFromNoOutputs(t *testing.T) {
	d := newFakeDisplay(3200, 1080)
	d.outputs = twoOutputs()
	_, err := Open(Deps{Dialer: d, Pool: newTestPool(t)}, Config{Output: OutputIndex(5)})

	var re *OutputRangeError
	if !errors.As(err, &re) || re.Index != 5 || re.Count != 2 {
		t.Fatalf("err = %v, want OutputRangeError{5, 2}", err)
	}
	if !errors.Is(err, ErrOutputOutOfRange) || errors.Is(err, ErrNoOutputs) {
		t.Fatalf("err = %v classified wrongly", err)
	}

	empty := newFakeDisplay(1920, 1080)
	_, err = Open(Deps{Dialer: empty, Pool: newTestPool(t)}, Config{Output: OutputIndex(0)})
	if !errors.Is(err, ErrNoOutputs) || errors.Is(err, ErrOutputOutOfRange) {
		t.Fatalf("err = %v, want ErrNoOutputs only", err)
	}

	var ie *InitError
	if !errors.As(err, &ie) || errors.Is(ie.Err, ErrSharedMemoryUnavailable) {
		t.Fatalf("err = %v, want an output resolution failure", err)
	}
}

func TestOutputSelection(t *testing.T) {
	tests := []struct {
		name    string
		sel     OutputSelector
		outputs []Output
		want    Geometry
		wantErr error
	}{
		{
			name: "whole display",
			sel:  AllOutputs,
			want: Geometry{Width: 3200, Height: 1080, EnvWidth: 3200, EnvHeight: 1080},
		},
		{
			name:    "second output",
			sel:     OutputIndex(1),
			outputs: twoOutputs(),
			want:    Geometry{Width: 1280, Height: 1024, OffsetX: 1920, EnvWidth: 3200, EnvHeight: 1080},
		},
		{
			name:    "primary",
			sel:     OutputSelector{Primary: true},
			outputs: twoOutputs(),
			want:    Geometry{Width: 1920, Height: 1080, EnvWidth: 3200, EnvHeight: 1080},
		},
		{
			name: "no primary set",
			sel:  OutputSelector{Primary: true},
			outputs: []Output{
				{Name: "DP-1", Width: 1920, Height: 1080, Active: true},
			},
			want: Geometry{Width: 3200, Height: 1080, EnvWidth: 3200, EnvHeight: 1080},
		},
		{
			name:    "negative index",
			sel:     OutputIndex(-1),
			outputs: twoOutputs(),
			wantErr: ErrOutputOutOfRange,
		},
		{
			name: "inactive output",
			sel:  OutputIndex(0),
			outputs: []Output{
				{Name: "DP-2", Active: false},
			},
			wantErr: ErrOutputInactive,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDisplay(3200, 1080)
			d.outputs = tt.outputs
			b, err := Open(Deps{Dialer: d, Pool: newTestPool(t)}, Config{Output: tt.sel})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !IsFatal(err) {
					t.Fatalf("err = %v, want fatal %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer b.Close()
			if got := b.Geometry(); got != tt.want {
				t.Fatalf("geometry = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestZeroConfigStreamsWholeDisplay(t *testing.T) {
	for _, outputs := range [][]Output{nil, twoOutputs()} {
		d := newFakeDisplay(1920, 1080)
		d.outputs = outputs
		b := openTest(t, d, newTestPool(t), Config{})
		want := Geometry{Width: 1920, Height: 1080, EnvWidth: 1920, EnvHeight: 1080}
		if got := b.Geometry(); got != want {
			t.Fatalf("%d outputs: geometry = %+v, want %+v", len(outputs), got, want)
		}
		if b.Name() != sharedName {
			t.Fatalf("backend = %s, want %s", b.Name(), sharedName)
		}
	}
}

func TestFallbackAnnouncesOnlyChosenBackend(t *testing.T) {
	var logs bytes.Buffer
	d := newFakeDisplay(1920, 1080)
	d.attachErr = errors.New("shmget: no space left on device")

	b, err := Open(Deps{
		Dialer: d,
		Pool:   newTestPool(t),
		Clock:  newVirtualClock(),
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	out := logs.String()
	if n := strings.Count(out, "streaming display"); n != 1 {
		t.Fatalf("announced %d times:\n%s", n, out)
	}
	if !strings.Contains(out, "backend=direct") {
		t.Fatalf("announcement not from the direct backend:\n%s", out)
	}
}

func TestListOutputs(t *testing.T) {
	d := newFakeDisplay(3200, 1080)
	d.outputs = twoOutputs()
	outs, err := ListOutputs(d)
	if err != nil {
		t.Fatalf("ListOutputs: %v", err)
	}
	if len(outs) != 2 || outs[1].Name != "HDMI-1" {
		t.Fatalf("outputs = %+v", outs)
	}
	if d.openConns() != 0 {
		t.Fatal("ListOutputs left a connection open")
	}
}

func TestDirectSnapshotReinitOnDrift(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	d.noShm = true
	b := openTest(t, d, nil, Config{Output: AllOutputs})
	buf := b.AllocImage()

	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusOK {
		t.Fatalf("first snapshot = %v", st)
	}
	d.setExtents(2560, 1440)
	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusReinit {
		t.Fatalf("snapshot after resize = %v, want reinit", st)
	}
}

func TestSharedSnapshotReinitAfterRefresh(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs, RefreshInterval: time.Hour})
	sb := b.(*sharedBackend)
	buf := b.AllocImage()

	d.setExtents(2560, 1440)
	// Snapshots only see what the background refresh last observed.
	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusOK {
		t.Fatalf("snapshot before refresh = %v, want ok", st)
	}
	sb.refreshGeometry()
	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusReinit {
		t.Fatalf("snapshot after refresh = %v, want reinit", st)
	}
}

func TestSharedRefreshFailureKeepsGeometry(t *testing.T) {
	d := newFakeDisplay(1920, 1080)
	b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs, RefreshInterval: time.Hour})
	sb := b.(*sharedBackend)

	d.mu.Lock()
	d.extentsErr = errors.New("connection reset")
	d.mu.Unlock()
	sb.refreshGeometry()

	if st := b.Snapshot(b.AllocImage(), SnapshotTimeout, false); st != StatusOK {
		t.Fatalf("snapshot = %v, want ok after a failed refresh", st)
	}
}

func TestDirectSnapshotKeepsReportedPitch(t *testing.T) {
	d := newFakeDisplay(30, 20)
	d.noShm = true
	d.rowPad = 8
	b := openTest(t, d, nil, Config{Output: AllOutputs})

	buf := b.AllocImage()
	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusOK {
		t.Fatalf("snapshot = %v", st)
	}
	if buf.RowPitch != 30*4+8 {
		t.Fatalf("row pitch = %d, want the server's %d", buf.RowPitch, 30*4+8)
	}
	if buf.RowPitch < buf.Width*buf.PixelPitch || !buf.Valid() {
		t.Fatalf("pitch invariant broken: %+v", buf)
	}
	if buf.Ownership() != Borrowed {
		t.Fatalf("ownership = %v, want borrowed", buf.Ownership())
	}
}

func TestSharedSnapshotCopiesFrame(t *testing.T) {
	d := newFakeDisplay(64, 32)
	b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs})

	buf := b.AllocImage()
	if st := b.Snapshot(buf, SnapshotTimeout, false); st != StatusOK {
		t.Fatalf("snapshot = %v", st)
	}
	if len(buf.Data) != 64*32*4 || buf.Ownership() != Owned {
		t.Fatalf("buffer len=%d ownership=%v", len(buf.Data), buf.Ownership())
	}
	if buf.RowPitch < buf.Width*buf.PixelPitch || !buf.Valid() {
		t.Fatalf("pitch invariant broken: %+v", buf)
	}
	for i, v := range buf.Data {
		if v != 0x33 {
			t.Fatalf("byte %d = %#x, want segment contents", i, v)
		}
	}
	// The segment itself is never handed out.
	seg := d.segments[0]
	if &buf.Data[0] == &seg.data[0] {
		t.Fatal("frame aliases the shared segment")
	}
}

func TestSnapshotErrorReportsCause(t *testing.T) {
	for _, noShm := range []bool{false, true} {
		d := newFakeDisplay(16, 16)
		d.noShm = noShm
		b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs})

		d.mu.Lock()
		d.imageErr = errors.New("BadDrawable")
		d.mu.Unlock()

		if st := b.Snapshot(b.AllocImage(), SnapshotTimeout, false); st != StatusError {
			t.Fatalf("%s: status = %v, want error", b.Name(), st)
		}
		if b.Err() == nil {
			t.Fatalf("%s: Err() is nil after a failed snapshot", b.Name())
		}
	}
}

func TestSnapshotCompositesCursorAtOutputOffset(t *testing.T) {
	for _, noShm := range []bool{false, true} {
		d := newFakeDisplay(3200, 1080)
		d.noShm = noShm
		d.outputs = twoOutputs()
		d.cursor = &CursorImage{X: 1925, Y: 7, Width: 1, Height: 1, Pixels: []uint32{0xff0000ff}}
		b := openTest(t, d, newTestPool(t), Config{Output: OutputIndex(1)})

		buf := b.AllocImage()
		if st := b.Snapshot(buf, SnapshotTimeout, true); st != StatusOK {
			t.Fatalf("%s: snapshot = %v", b.Name(), st)
		}
		off := 7*buf.RowPitch + 5*4
		if got := buf.Data[off : off+4]; got[0] != 0xff || got[2] != 0 {
			t.Fatalf("%s: cursor pixel = %v", b.Name(), got)
		}
	}
}

func TestPrimeVariants(t *testing.T) {
	direct := newFakeDisplay(8, 8)
	direct.noShm = true
	b := openTest(t, direct, nil, Config{Output: AllOutputs})
	before := direct.extentsCalls.Load()
	if st := b.Prime(b.AllocImage()); st != StatusOK {
		t.Fatalf("direct prime = %v", st)
	}
	if direct.extentsCalls.Load() == before {
		t.Fatal("direct prime did not pull a frame")
	}

	shared := newFakeDisplay(8, 8)
	b = openTest(t, shared, newTestPool(t), Config{Output: AllOutputs})
	if st := b.Prime(b.AllocImage()); st != StatusOK {
		t.Fatalf("shm prime = %v", st)
	}
	if shared.fills.Load() != 0 {
		t.Fatal("shm prime should not touch the segment")
	}
}

func TestDeviceSurface(t *testing.T) {
	d := newFakeDisplay(640, 480)
	b := openTest(t, d, newTestPool(t), Config{Output: AllOutputs, Memory: MemoryVAAPI})
	s := b.MakeDeviceSurface(PixelFormatNV12)
	if !s.Hardware() || s.Width != 640 || s.Height != 480 || s.Format != PixelFormatNV12 {
		t.Fatalf("surface = %+v", s)
	}

	d = newFakeDisplay(640, 480)
	b = openTest(t, d, newTestPool(t), Config{Output: AllOutputs})
	if b.MakeDeviceSurface(PixelFormatBGR0).Hardware() {
		t.Fatal("system memory surface should be a placeholder")
	}
}

func TestSharedCloseReleasesEverything(t *testing.T) {
	d := newFakeDisplay(64, 64)
	b, err := Open(Deps{Dialer: d, Pool: newTestPool(t)}, Config{Output: AllOutputs})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if open := d.openConns(); open != 0 {
		t.Fatalf("%d connections left open", open)
	}
	if n := d.segments[0].closes.Load(); n != 1 {
		t.Fatalf("segment closed %d times, want 1", n)
	}
}

func TestSharedCloseStopsRefresh(t *testing.T) {
	d := newFakeDisplay(64, 64)
	d.extentsDelay = 5 * time.Millisecond
	b, err := Open(Deps{Dialer: d, Pool: newTestPool(t)},
		Config{Output: AllOutputs, RefreshInterval: 2 * time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	sb := b.(*sharedBackend)

	deadline := time.Now().Add(2 * time.Second)
	for sb.monitor.Refreshes() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("background refresh never ran")
		}
		time.Sleep(time.Millisecond)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := d.extentsInFlight.Load(); n != 0 {
		t.Fatalf("%d refreshes still in flight after Close", n)
	}

	after := sb.monitor.Refreshes()
	time.Sleep(30 * time.Millisecond)
	if got := sb.monitor.Refreshes(); got != after {
		t.Fatalf("refreshes went from %d to %d after Close", after, got)
	}
}

func TestBackendRunDeliversFrames(t *testing.T) {
	d := newFakeDisplay(16, 16)
	b := openTest(t, d, newTestPool(t), Config{Framerate: 30, Output: AllOutputs})

	frames := 0
	status := b.Run(func(f *FrameBuffer) *FrameBuffer {
		frames++
		if frames == 5 {
			return nil
		}
		return f
	}, b.AllocImage(), nil)

	if status != StatusOK || frames != 5 {
		t.Fatalf("status=%v frames=%d", status, frames)
	}
}
