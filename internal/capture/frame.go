package capture

import "sync"

// Ownership tells who owns a FrameBuffer's pixel memory.
type Ownership int

const (
	// Owned pixels are a heap slice belonging to the FrameBuffer.
	Owned Ownership = iota
	// Borrowed pixels belong to the capture API and are handed back through
	// the release callback.
	Borrowed
)

func (o Ownership) String() string {
	if o == Borrowed {
		return "borrowed"
	}
	return "owned"
}

// FrameBuffer describes one captured frame. Pixels are 32-bit BGRX/BGRA in
// the X server's native byte order when PixelPitch is 4.
type FrameBuffer struct {
	Width      int
	Height     int
	RowPitch   int
	PixelPitch int
	Data       []byte

	ownership Ownership
	release   func()
}

// NewFrameBuffer allocates an owned 32-bit-per-pixel buffer.
func NewFrameBuffer(width, height int) *FrameBuffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &FrameBuffer{
		Width:      width,
		Height:     height,
		RowPitch:   width * 4,
		PixelPitch: 4,
		Data:       make([]byte, width*height*4),
	}
}

// Ownership reports whether Data is owned or borrowed.
func (f *FrameBuffer) Ownership() Ownership {
	return f.ownership
}

// Borrow points the buffer at memory owned by the capture API. The previous
// borrow, if any, is released first. release may be nil and runs at most
// once: on the next Borrow, on Own, or on Release.
func (f *FrameBuffer) Borrow(img *Image) {
	f.releaseBorrowed()
	f.Width = img.Width
	f.Height = img.Height
	f.RowPitch = img.RowPitch
	f.PixelPitch = img.PixelPitch
	f.Data = img.Data
	f.ownership = Borrowed
	if img.Release != nil {
		f.release = sync.OnceFunc(img.Release)
	}
}

// Own makes the buffer an owned width x height x 4 buffer, reusing the
// current allocation when it is owned and large enough.
func (f *FrameBuffer) Own(width, height int) {
	size := width * height * 4
	if f.ownership == Borrowed {
		f.releaseBorrowed()
		f.Data = nil
	}
	if cap(f.Data) < size {
		f.Data = make([]byte, size)
	}
	f.Data = f.Data[:size]
	f.Width = width
	f.Height = height
	f.RowPitch = width * 4
	f.PixelPitch = 4
	f.ownership = Owned
}

// Release gives up the pixel memory. Borrowed memory goes back to the capture
// API exactly once; owned memory is dropped for the collector.
func (f *FrameBuffer) Release() {
	if f == nil {
		return
	}
	f.releaseBorrowed()
	f.Data = nil
	f.ownership = Owned
}

// Valid reports whether the layout invariants hold: the row pitch covers a
// full row of pixels and Data covers every row.
func (f *FrameBuffer) Valid() bool {
	if f == nil || f.Width < 0 || f.Height < 0 || f.PixelPitch <= 0 {
		return false
	}
	return f.RowPitch >= f.Width*f.PixelPitch && len(f.Data) >= f.RowPitch*f.Height
}

// Size is the number of bytes the frame's rows occupy.
func (f *FrameBuffer) Size() int {
	return f.RowPitch * f.Height
}

func (f *FrameBuffer) releaseBorrowed() {
	if f.release != nil {
		rel := f.release
		f.release = nil
		rel()
	}
}
