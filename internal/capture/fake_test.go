package capture

import (
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"
)

// fakeDisplay is an in-memory display server. Each Dial returns a new
// connection sharing the display's state.
type fakeDisplay struct {
	mu      sync.Mutex
	width   int
	height  int
	outputs []Output
	cursor  *CursorImage

	noShm      bool
	attachErr  error
	imageErr   error
	extentsErr error
	// failDialsFrom makes the nth and later dials fail (1-based, 0 = never).
	failDialsFrom int
	// rowPad is extra bytes appended to each row of a direct pull.
	rowPad int
	// extentsDelay makes every extents query block for a while.
	extentsDelay time.Duration

	dials           atomic.Int32
	extentsCalls    atomic.Int64
	extentsInFlight atomic.Int32
	fills           atomic.Int64
	conns           []*fakeConn
	segments        []*fakeSegment
}

func newFakeDisplay(w, h int) *fakeDisplay {
	return &fakeDisplay{width: w, height: h}
}

func twoOutputs() []Output {
	return []Output{
		{Index: 0, Name: "DP-1", Width: 1920, Height: 1080, Primary: true, Active: true},
		{Index: 1, Name: "HDMI-1", Width: 1280, Height: 1024, X: 1920, Active: true},
	}
}

func (d *fakeDisplay) setExtents(w, h int) {
	d.mu.Lock()
	d.width, d.height = w, h
	d.mu.Unlock()
}

func (d *fakeDisplay) Dial() (Conn, error) {
	n := int(d.dials.Add(1))
	if d.failDialsFrom > 0 && n >= d.failDialsFrom {
		return nil, errors.New("cannot open display")
	}
	c := &fakeConn{d: d}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	if d.noShm {
		return plainConn{c}, nil
	}
	return c, nil
}

func (d *fakeDisplay) openConns() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	open := 0
	for _, c := range d.conns {
		if !c.closed.Load() {
			open++
		}
	}
	return open
}

// plainConn hides AttachSegment, like a server without MIT-SHM.
type plainConn struct{ Conn }

type fakeConn struct {
	d      *fakeDisplay
	closed atomic.Bool
}

func (c *fakeConn) RootExtents() (int, int, error) {
	d := c.d
	d.extentsInFlight.Add(1)
	defer d.extentsInFlight.Add(-1)
	if d.extentsDelay > 0 {
		time.Sleep(d.extentsDelay)
	}
	d.extentsCalls.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.extentsErr != nil {
		return 0, 0, d.extentsErr
	}
	return d.width, d.height, nil
}

func (c *fakeConn) Outputs() ([]Output, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return append([]Output(nil), c.d.outputs...), nil
}

// GetImage returns rows filled with 0x22 and padding bytes set to 0xee.
func (c *fakeConn) GetImage(r image.Rectangle) (*Image, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.imageErr != nil {
		return nil, c.d.imageErr
	}
	w, h := r.Dx(), r.Dy()
	pitch := w*4 + c.d.rowPad
	data := make([]byte, pitch*h)
	for y := 0; y < h; y++ {
		row := data[y*pitch : (y+1)*pitch]
		for i := range row {
			if i < w*4 {
				row[i] = 0x22
			} else {
				row[i] = 0xee
			}
		}
	}
	return &Image{Width: w, Height: h, RowPitch: pitch, PixelPitch: 4, Data: data}, nil
}

func (c *fakeConn) CursorImage() (*CursorImage, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.cursor == nil {
		return nil, errors.New("no cursor")
	}
	cur := *c.d.cursor
	return &cur, nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) AttachSegment(size int) (Segment, error) {
	if c.d.attachErr != nil {
		return nil, c.d.attachErr
	}
	s := &fakeSegment{d: c.d, data: make([]byte, size)}
	c.d.mu.Lock()
	c.d.segments = append(c.d.segments, s)
	c.d.mu.Unlock()
	return s, nil
}

type fakeSegment struct {
	d      *fakeDisplay
	data   []byte
	closes atomic.Int32
}

// Fill writes 0x33 over the whole segment.
func (s *fakeSegment) Fill(r image.Rectangle) error {
	s.d.mu.Lock()
	err := s.d.imageErr
	s.d.mu.Unlock()
	if err != nil {
		return err
	}
	if r.Dx()*r.Dy()*4 > len(s.data) {
		return errors.New("segment too small")
	}
	for i := range s.data {
		s.data[i] = 0x33
	}
	s.d.fills.Add(1)
	return nil
}

func (s *fakeSegment) Bytes() []byte { return s.data }

func (s *fakeSegment) Close() error {
	s.closes.Add(1)
	return nil
}

// virtualClock advances by step on every Now so spin waits terminate, and by
// d on every Sleep.
type virtualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newVirtualClock() *virtualClock {
	return &virtualClock{now: time.Unix(1_700_000_000, 0), step: time.Microsecond}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *virtualClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}

func (c *virtualClock) advance(d time.Duration) {
	c.Sleep(d)
}
