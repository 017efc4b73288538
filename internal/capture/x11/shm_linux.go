//go:build linux

package x11

import (
	"errors"
	"fmt"
	"image"
	"sync"

	sysvshm "github.com/gen2brain/shm"
	xshm "github.com/jezek/xgb/shm"
	"github.com/jezek/xgb/xproto"

	"github.com/breeze-rmm/streamhost/internal/capture"
)

type shmConn struct {
	*conn
}

// AttachSegment creates a private SysV segment, maps it and has the server
// attach it read-write.
func (c *shmConn) AttachSegment(size int) (capture.Segment, error) {
	id, err := sysvshm.Get(sysvshm.IPC_PRIVATE, size, sysvshm.IPC_CREAT|0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: shmget %d bytes: %v", capture.ErrSharedMemoryUnavailable, size, err)
	}
	data, err := sysvshm.At(id, 0, 0)
	if err != nil {
		sysvshm.Rm(id)
		return nil, fmt.Errorf("%w: shmat: %v", capture.ErrSharedMemoryUnavailable, err)
	}

	seg, err := xshm.NewSegId(c.x)
	if err == nil {
		err = xshm.AttachChecked(c.x, seg, uint32(id), false).Check()
	}
	if err != nil {
		sysvshm.Dt(data)
		sysvshm.Rm(id)
		return nil, fmt.Errorf("%w: server attach: %v", capture.ErrSharedMemoryUnavailable, err)
	}

	return &segment{c: c.conn, seg: seg, id: id, data: data[:size]}, nil
}

type segment struct {
	c    *conn
	seg  xshm.Seg
	mu   sync.Mutex
	id   int
	data []byte
}

func (s *segment) Fill(r image.Rectangle) error {
	_, err := xshm.GetImage(s.c.x, xproto.Drawable(s.c.root),
		int16(r.Min.X), int16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()),
		allPlanes, xproto.ImageFormatZPixmap, s.seg, 0).Reply()
	if err != nil {
		return fmt.Errorf("x11: shm get image: %w", err)
	}
	return nil
}

func (s *segment) Bytes() []byte {
	return s.data
}

// Close detaches the segment from the server and this process and removes
// it. The id is invalidated right away so later calls do nothing.
func (s *segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id < 0 {
		return nil
	}

	var errs []error
	if err := xshm.DetachChecked(s.c.x, s.seg).Check(); err != nil {
		errs = append(errs, fmt.Errorf("x11: shm detach: %w", err))
	}
	if err := sysvshm.Dt(s.data); err != nil {
		errs = append(errs, fmt.Errorf("shmdt: %w", err))
	}
	if err := sysvshm.Rm(s.id); err != nil {
		errs = append(errs, fmt.Errorf("shmctl IPC_RMID: %w", err))
	}
	s.id = -1
	s.data = nil
	return errors.Join(errs...)
}
