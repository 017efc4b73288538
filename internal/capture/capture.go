// Package capture acquires frames of one display output at a fixed cadence.
//
// A Backend is chosen by Open: the zero-copy shared-memory backend when the
// display server supports it, otherwise the direct-copy backend. Both are
// driven by the same Pacer and composite the hardware cursor with
// BlendCursor. Geometry drift is reported as StatusReinit; the caller tears the
// backend down and opens a new one.
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the outcome of one snapshot or of a whole capture run.
type Status int

const (
	// StatusOK means a frame is ready, or that Run stopped because the
	// callback asked for no further frames.
	StatusOK Status = iota
	// StatusTimeout means no frame was produced in time; retry.
	StatusTimeout
	// StatusReinit means the display geometry changed and the backend must be
	// rebuilt.
	StatusReinit
	// StatusError means the capture primitive failed; stop the session.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusReinit:
		return "reinit"
	case StatusError:
		return "error"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// MemoryStrategy selects where frames live for the downstream encoder.
type MemoryStrategy int

const (
	MemorySystem MemoryStrategy = iota
	MemoryVAAPI
	MemoryCUDA
)

func (m MemoryStrategy) String() string {
	switch m {
	case MemorySystem:
		return "system"
	case MemoryVAAPI:
		return "vaapi"
	case MemoryCUDA:
		return "cuda"
	default:
		return "memory(" + strconv.Itoa(int(m)) + ")"
	}
}

// GPU reports whether frames are handed to a GPU-mapped encoder surface.
func (m MemoryStrategy) GPU() bool {
	return m == MemoryVAAPI || m == MemoryCUDA
}

// ParseMemoryStrategy maps a config value to a MemoryStrategy.
func ParseMemoryStrategy(s string) (MemoryStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "system":
		return MemorySystem, nil
	case "vaapi":
		return MemoryVAAPI, nil
	case "cuda":
		return MemoryCUDA, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMemory, s)
	}
}

// OutputSelector picks the region to stream: one connected output by index,
// the RandR primary output, or the whole virtual display. The zero value
// streams the whole display.
type OutputSelector struct {
	Index   int
	Indexed bool
	Primary bool
}

// AllOutputs streams the whole virtual display.
var AllOutputs = OutputSelector{}

// OutputIndex streams the connected output at index i.
func OutputIndex(i int) OutputSelector {
	return OutputSelector{Index: i, Indexed: true}
}

// ParseOutputSelector accepts "", "all", "primary" or a decimal output index.
func ParseOutputSelector(s string) (OutputSelector, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "all":
		return AllOutputs, nil
	case "primary":
		return OutputSelector{Primary: true}, nil
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return OutputSelector{}, fmt.Errorf("invalid output selector %q", s)
		}
		return OutputIndex(n), nil
	}
}

func (o OutputSelector) String() string {
	switch {
	case o.Primary:
		return "primary"
	case o.Indexed:
		return strconv.Itoa(o.Index)
	default:
		return "all"
	}
}

// Config describes the capture a caller wants.
type Config struct {
	Framerate int
	Output    OutputSelector
	Memory    MemoryStrategy
	// RefreshInterval is the background geometry poll period of the
	// shared-memory backend. Zero means DefaultRefreshInterval.
	RefreshInterval time.Duration
	// SnapshotTimeout is passed to every paced Snapshot. Zero means
	// SnapshotTimeout.
	SnapshotTimeout time.Duration
}

const (
	// DefaultRefreshInterval is how often the shared-memory backend re-reads
	// the display extents outside the capture loop.
	DefaultRefreshInterval = 2 * time.Second
	// SnapshotTimeout is the default timeout of paced snapshots.
	SnapshotTimeout = 1000 * time.Millisecond
)

func (c Config) interval() time.Duration {
	fps := c.Framerate
	if fps <= 0 {
		fps = 60
	}
	return time.Second / time.Duration(fps)
}

func (c Config) snapshotTimeout() time.Duration {
	if c.SnapshotTimeout <= 0 {
		return SnapshotTimeout
	}
	return c.SnapshotTimeout
}

func (c Config) refreshInterval() time.Duration {
	if c.RefreshInterval <= 0 {
		return DefaultRefreshInterval
	}
	return c.RefreshInterval
}

var (
	// ErrNoOutputs is returned when an output index is requested but the
	// display server reports no connected outputs.
	ErrNoOutputs = errors.New("no connected outputs")
	// ErrOutputOutOfRange is matched by *OutputRangeError.
	ErrOutputOutOfRange = errors.New("output index exceeds connected-output count")
	// ErrOutputInactive is returned for a connected output that drives no CRTC.
	ErrOutputInactive = errors.New("output is connected but not active")
	// ErrSharedMemoryUnavailable means the MIT-SHM path cannot be used.
	ErrSharedMemoryUnavailable = errors.New("shared memory capture unavailable")
	// ErrUnsupportedMemory is returned for unknown memory strategies.
	ErrUnsupportedMemory = errors.New("unsupported memory strategy")
	// ErrNotSupported is returned by platform adapters on hosts without a
	// supported display server.
	ErrNotSupported = errors.New("display capture not supported on this platform")
)

// OutputRangeError reports an output index beyond the connected outputs.
type OutputRangeError struct {
	Index int
	Count int
}

func (e *OutputRangeError) Error() string {
	return fmt.Sprintf("could not stream display number [%d], there are only [%d] displays", e.Index, e.Count)
}

func (e *OutputRangeError) Is(target error) bool {
	return target == ErrOutputOutOfRange
}

// InitError is returned when a backend fails to initialize. Non-fatal errors
// let the factory fall back to another backend.
type InitError struct {
	Backend string
	Fatal   bool
	Err     error
}

func (e *InitError) Error() string {
	kind := "unavailable"
	if e.Fatal {
		kind = "failed"
	}
	return fmt.Sprintf("%s backend %s: %v", e.Backend, kind, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is an initialization failure that no backend
// can recover from.
func IsFatal(err error) bool {
	var ie *InitError
	if errors.As(err, &ie) {
		return ie.Fatal
	}
	return err != nil
}

func fatalInit(backend string, err error) error {
	return &InitError{Backend: backend, Fatal: true, Err: err}
}

func nonFatalInit(backend string, err error) error {
	return &InitError{Backend: backend, Err: err}
}
