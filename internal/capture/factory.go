package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/breeze-rmm/streamhost/internal/logging"
	"github.com/breeze-rmm/streamhost/internal/workerpool"
)

// Deps are the collaborators a backend is opened with.
type Deps struct {
	Dialer Dialer
	// Pool runs the shared-memory backend's geometry refresh. Without one the
	// shared-memory backend is skipped.
	Pool *workerpool.Pool
	// Clock drives the pacer. Nil means SystemClock.
	Clock Clock
	// Metrics collects capture counters across backends. May be nil.
	Metrics *Metrics
	Logger  *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.L("capture")
}

// Open returns the best available backend for cfg: shared memory first, then
// direct copy when shared memory is unavailable. A fatal failure of either
// (display unreachable, output unresolvable) is returned as is.
func Open(deps Deps, cfg Config) (Backend, error) {
	switch cfg.Memory {
	case MemorySystem, MemoryVAAPI, MemoryCUDA:
	default:
		return nil, fmt.Errorf("open capture: %w: %s", ErrUnsupportedMemory, cfg.Memory)
	}
	if deps.Dialer == nil {
		return nil, fatalInit("capture", errors.New("no display dialer"))
	}
	log := deps.logger()

	shared, err := openShared(deps, cfg)
	if err == nil {
		shared.announce()
		return shared, nil
	}
	if IsFatal(err) {
		return nil, err
	}
	log.Info("shared memory capture unavailable, falling back to direct copy", logging.KeyError, err)

	direct, err := openDirect(deps, cfg)
	if err != nil {
		return nil, err
	}
	direct.announce()
	return direct, nil
}

// ListOutputs returns the connected outputs in index order.
func ListOutputs(d Dialer) ([]Output, error) {
	conn, err := d.Dial()
	if err != nil {
		return nil, fmt.Errorf("open display: %w", err)
	}
	defer conn.Close()

	outputs, err := conn.Outputs()
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	return outputs, nil
}

// setup records the baseline extents on conn, resolves the crop region and
// sets up pacing. Every error it returns is fatal for any backend.
func (b *backendBase) setup(name string, conn Conn, deps Deps, cfg Config) error {
	monitor, err := NewGeometryMonitor(conn)
	if err != nil {
		return err
	}
	crop, label, err := resolveCrop(conn, cfg.Output, monitor.Baseline())
	if err != nil {
		return err
	}

	b.name = name
	b.memory = cfg.Memory
	b.monitor = monitor
	b.geom = newGeometry(crop, monitor.Baseline())
	b.log = logging.WithBackend(deps.logger(), name, label)
	b.pacer = &Pacer{Interval: cfg.interval(), Timeout: cfg.snapshotTimeout(), Clock: deps.Clock, Metrics: deps.Metrics}
	if b.pacer.Clock == nil {
		b.pacer.Clock = SystemClock
	}

	b.label = label
	return nil
}

func (b *backendBase) announce() {
	b.log.Info(fmt.Sprintf("streaming display %s %dx%d offset by %dx%d",
		b.label, b.geom.Width, b.geom.Height, b.geom.OffsetX, b.geom.OffsetY))
}

// resolveCrop maps the selector onto a rectangle of the virtual display.
func resolveCrop(conn Conn, sel OutputSelector, env Extents) (image.Rectangle, string, error) {
	whole := image.Rect(0, 0, env.Width, env.Height)
	if !sel.Indexed && !sel.Primary {
		return whole, "all", nil
	}

	outputs, err := conn.Outputs()
	if err != nil {
		return image.Rectangle{}, "", fmt.Errorf("list outputs: %w", err)
	}

	var out *Output
	if sel.Primary {
		for i := range outputs {
			if outputs[i].Primary {
				out = &outputs[i]
				break
			}
		}
		if out == nil {
			return whole, "all", nil
		}
	} else {
		switch {
		case len(outputs) == 0:
			return image.Rectangle{}, "", ErrNoOutputs
		case sel.Index < 0 || sel.Index >= len(outputs):
			return image.Rectangle{}, "", &OutputRangeError{Index: sel.Index, Count: len(outputs)}
		}
		out = &outputs[sel.Index]
	}

	if !out.Active || out.Width <= 0 || out.Height <= 0 {
		return image.Rectangle{}, "", fmt.Errorf("%w: %s", ErrOutputInactive, out.Name)
	}
	return out.Bounds(), out.Name, nil
}
