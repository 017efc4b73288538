package capture

import (
	"fmt"
	"image"
	"sync/atomic"
)

// Geometry is the region a backend streams plus the full virtual display
// extents recorded when the backend was opened.
type Geometry struct {
	Width     int `json:"width"`
	Height    int `json:"height"`
	OffsetX   int `json:"offsetX"`
	OffsetY   int `json:"offsetY"`
	EnvWidth  int `json:"envWidth"`
	EnvHeight int `json:"envHeight"`
}

func newGeometry(crop image.Rectangle, env Extents) Geometry {
	return Geometry{
		Width:     crop.Dx(),
		Height:    crop.Dy(),
		OffsetX:   crop.Min.X,
		OffsetY:   crop.Min.Y,
		EnvWidth:  env.Width,
		EnvHeight: env.Height,
	}
}

// Crop is the streamed rectangle in virtual display coordinates.
func (g Geometry) Crop() image.Rectangle {
	return image.Rect(g.OffsetX, g.OffsetY, g.OffsetX+g.Width, g.OffsetY+g.Height)
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d+%d of %dx%d", g.Width, g.Height, g.OffsetX, g.OffsetY, g.EnvWidth, g.EnvHeight)
}

// Extents is the size of the whole virtual display.
type Extents struct {
	Width  int
	Height int
}

type extentsSource interface {
	RootExtents() (width, height int, err error)
}

// GeometryMonitor tracks the virtual display extents and reports drift from
// the baseline taken when it was created. Refresh may run on a different
// goroutine than Current and Drifted.
type GeometryMonitor struct {
	src       extentsSource
	baseline  Extents
	current   atomic.Pointer[Extents]
	refreshes atomic.Uint64
}

// NewGeometryMonitor queries src once and records the result as the baseline.
func NewGeometryMonitor(src extentsSource) (*GeometryMonitor, error) {
	w, h, err := src.RootExtents()
	if err != nil {
		return nil, fmt.Errorf("query display extents: %w", err)
	}
	m := &GeometryMonitor{src: src, baseline: Extents{Width: w, Height: h}}
	cur := m.baseline
	m.current.Store(&cur)
	return m, nil
}

// Refresh re-queries the display. On failure the previous extents are kept.
func (m *GeometryMonitor) Refresh() error {
	w, h, err := m.src.RootExtents()
	if err != nil {
		return fmt.Errorf("query display extents: %w", err)
	}
	m.current.Store(&Extents{Width: w, Height: h})
	m.refreshes.Add(1)
	return nil
}

// Current returns the most recently observed extents.
func (m *GeometryMonitor) Current() Extents {
	return *m.current.Load()
}

// Baseline returns the extents recorded at creation.
func (m *GeometryMonitor) Baseline() Extents {
	return m.baseline
}

// Drifted reports whether the display extents no longer match the baseline.
func (m *GeometryMonitor) Drifted() bool {
	return m.Current() != m.baseline
}

// Refreshes counts successful refreshes.
func (m *GeometryMonitor) Refreshes() uint64 {
	return m.refreshes.Load()
}
