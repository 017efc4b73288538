// Package logging configures the process-wide slog logger. Loggers obtained
// with L before Init pick up the configured format, level and output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// Structured field names shared across packages.
const (
	KeyComponent  = "component"
	KeyBackend    = "backend"
	KeyOutput     = "output"
	KeySession    = "session"
	KeyStatus     = "status"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type ctxLogger struct{}

type handlerBox struct{ slog.Handler }

// retargetHandler resolves the current root handler on every call and
// replays its With/WithGroup chain on top of it, in order.
type retargetHandler struct {
	root   *atomic.Pointer[handlerBox]
	derive []func(slog.Handler) slog.Handler
}

func (r *retargetHandler) resolve() slog.Handler {
	h := r.root.Load().Handler
	for _, d := range r.derive {
		h = d(h)
	}
	return h
}

func (r *retargetHandler) extend(d func(slog.Handler) slog.Handler) *retargetHandler {
	return &retargetHandler{root: r.root, derive: append(slices.Clip(r.derive), d)}
}

func (r *retargetHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return r.root.Load().Enabled(ctx, level)
}

func (r *retargetHandler) Handle(ctx context.Context, rec slog.Record) error {
	return r.resolve().Handle(ctx, rec)
}

func (r *retargetHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return r
	}
	attrs = slices.Clone(attrs)
	return r.extend(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (r *retargetHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return r
	}
	return r.extend(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

var (
	root    atomic.Pointer[handlerBox]
	process *slog.Logger
)

func init() {
	root.Store(&handlerBox{newHandler("text", slog.LevelInfo, os.Stderr)})
	process = slog.New(&retargetHandler{root: &root})
	slog.SetDefault(process)
}

func newHandler(format string, level slog.Level, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Init points every logger at w (stderr when nil). format is "json" or
// "text"; level is one of debug, info, warn or error and defaults to info.
func Init(format, level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	root.Store(&handlerBox{newHandler(format, parseLevel(level), w)})
	slog.SetDefault(process)
}

// L returns the logger for a component.
func L(component string) *slog.Logger {
	return process.With(KeyComponent, component)
}

// WithBackend tags logger with a capture backend and the output it streams.
func WithBackend(logger *slog.Logger, backend, output string) *slog.Logger {
	return logger.With(KeyBackend, backend, KeyOutput, output)
}

func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxLogger{}, logger)
}

// FromContext returns the logger stored by NewContext, or the process logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxLogger{}).(*slog.Logger); ok {
		return l
	}
	return process
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	switch s = strings.TrimSpace(s); {
	case strings.EqualFold(s, "warning"):
		return slog.LevelWarn
	case level.UnmarshalText([]byte(s)) == nil:
		return level
	default:
		return slog.LevelInfo
	}
}
