package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/streamhost/internal/capture"
	"github.com/breeze-rmm/streamhost/internal/config"
	"github.com/breeze-rmm/streamhost/internal/logging"
	"github.com/breeze-rmm/streamhost/internal/procstat"
	"github.com/breeze-rmm/streamhost/internal/workerpool"
)

var (
	captureFrames   int
	captureDuration time.Duration
	captureRaw      string
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Run a capture session",
	Long: `Capture frames at the configured framerate until interrupted, --frames
frames were captured or --duration elapsed. With --raw, frames are appended to
FILE as tightly packed BGRX rows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()
		return runCapture(cmd.Context(), cfg)
	},
}

func init() {
	f := captureCmd.Flags()
	f.IntVar(&captureFrames, "frames", 0, "stop after this many frames (0 = unlimited)")
	f.DurationVar(&captureDuration, "duration", 0, "stop after this long (0 = unlimited)")
	f.StringVar(&captureRaw, "raw", "", "append raw frames to this file")
}

func runCapture(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ccfg, err := captureConfig(cfg)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	ctx = logging.NewContext(ctx, logging.L("session").With(logging.KeySession, id))
	log := logging.FromContext(ctx)

	pool := workerpool.New(cfg.WorkerCount, cfg.WorkerQueueSize)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(shutdownCtx)
	}()

	sink := &frameSink{max: captureFrames, log: log}
	if captureDuration > 0 {
		sink.deadline = time.Now().Add(captureDuration)
	}
	if captureRaw != "" {
		f, err := os.OpenFile(captureRaw, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open raw output: %w", err)
		}
		bw := bufio.NewWriterSize(f, 1<<20)
		defer func() {
			if err := bw.Flush(); err != nil {
				log.Warn("flush raw output", logging.KeyError, err)
			}
			f.Close()
		}()
		sink.w = bw
	}

	var cursor atomic.Bool
	cursor.Store(cfg.Cursor)

	session := &capture.Session{
		ID:            id,
		Deps:          capture.Deps{Dialer: dialer(cfg), Pool: pool, Metrics: capture.NewMetrics(), Logger: logging.L("capture")},
		Config:        ccfg,
		Consumer:      sink,
		Cursor:        &cursor,
		Format:        capture.PixelFormatBGR0,
		Nice:          cfg.CaptureNice,
		ReinitDelay:   cfg.ReinitDelay(),
		StatsInterval: cfg.StatsInterval(),
	}
	if sampler, err := procstat.NewSampler(); err == nil {
		session.Stats = sampler
	} else {
		log.Debug("process stats disabled", logging.KeyError, err)
	}

	log.Info("starting capture session",
		"display", cfg.Display,
		"output", ccfg.Output.String(),
		"framerate", cfg.Framerate,
		"memory", ccfg.Memory.String())

	if err := session.Run(ctx); err != nil {
		return err
	}
	log.Info("capture session finished", "frames", sink.frames)
	return nil
}

// frameSink is the CLI's frame consumer: it counts frames and optionally
// writes them out.
type frameSink struct {
	max      int
	deadline time.Time
	w        io.Writer
	log      *slog.Logger

	frames int
}

func (s *frameSink) Configure(surface capture.DeviceSurface, geom capture.Geometry) error {
	s.log.Info("capture configured",
		"geometry", geom.String(),
		"format", surface.Format.String(),
		"hardware", surface.Hardware())
	return nil
}

func (s *frameSink) Frame(f *capture.FrameBuffer) *capture.FrameBuffer {
	s.frames++
	if s.w != nil {
		if err := s.writeFrame(f); err != nil {
			s.log.Error("write raw frame", logging.KeyError, err)
			return nil
		}
	}
	if s.max > 0 && s.frames >= s.max {
		return nil
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		return nil
	}
	return f
}

// writeFrame writes each row without the server's padding.
func (s *frameSink) writeFrame(f *capture.FrameBuffer) error {
	n := f.Width * f.PixelPitch
	for y := 0; y < f.Height; y++ {
		if _, err := s.w.Write(f.Data[y*f.RowPitch : y*f.RowPitch+n]); err != nil {
			return err
		}
	}
	return nil
}
