package capture

import "image"

// Dialer opens client connections to the display server. Backends dial one
// connection per concern so the capture loop, the cursor query and the
// background refresh never share request queues.
type Dialer interface {
	Dial() (Conn, error)
}

// Conn is one client connection to the display server.
type Conn interface {
	// RootExtents returns the size of the whole virtual display.
	RootExtents() (width, height int, err error)
	// Outputs returns the connected outputs in server order.
	Outputs() ([]Output, error)
	// GetImage pulls the pixels of r from the root window.
	GetImage(r image.Rectangle) (*Image, error)
	// CursorImage returns the current hardware cursor.
	CursorImage() (*CursorImage, error)
	Close() error
}

// SharedMemoryConn is a Conn that can capture into a shared segment.
type SharedMemoryConn interface {
	Conn
	// AttachSegment creates a segment of size bytes attached both to this
	// process and to the server. Errors wrap ErrSharedMemoryUnavailable.
	AttachSegment(size int) (Segment, error)
}

// Segment is a shared-memory region the server writes frames into.
type Segment interface {
	// Fill asks the server to copy r of the root window into the segment and
	// waits for the reply.
	Fill(r image.Rectangle) error
	// Bytes returns the mapped segment. It is reused by every Fill.
	Bytes() []byte
	// Close detaches the segment from the server and the process and removes
	// it. It is safe to call more than once.
	Close() error
}

// Output describes a connected display output.
type Output struct {
	Index   int    `json:"index" yaml:"index"`
	Name    string `json:"name" yaml:"name"`
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	X       int    `json:"x" yaml:"x"`
	Y       int    `json:"y" yaml:"y"`
	Primary bool   `json:"isPrimary" yaml:"isPrimary"`
	Active  bool   `json:"active" yaml:"active"`
}

// Bounds is the output's rectangle in virtual display coordinates.
func (o Output) Bounds() image.Rectangle {
	return image.Rect(o.X, o.Y, o.X+o.Width, o.Y+o.Height)
}

// Image is the result of a direct pull. Data belongs to the connection until
// Release is called; Release may be nil.
type Image struct {
	Width      int
	Height     int
	RowPitch   int
	PixelPitch int
	Data       []byte
	Release    func()
}
