package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/streamhost/internal/capture"
	"github.com/breeze-rmm/streamhost/internal/config"
	"github.com/breeze-rmm/streamhost/internal/logging"
	"github.com/breeze-rmm/streamhost/internal/workerpool"
)

var snapshotQuality int

var snapshotCmd = &cobra.Command{
	Use:   "snapshot FILE",
	Short: "Capture one frame to a PNG or JPEG file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, closer, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		defer closer.Close()
		return takeSnapshot(cfg, args[0])
	},
}

func init() {
	snapshotCmd.Flags().IntVar(&snapshotQuality, "quality", 90, "JPEG quality (1-100)")
}

const snapshotAttempts = 5

func takeSnapshot(cfg *config.Config, path string) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}
	ccfg, err := captureConfig(cfg)
	if err != nil {
		return err
	}

	pool := workerpool.New(1, 1)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	}()

	b, err := capture.Open(capture.Deps{Dialer: dialer(cfg), Pool: pool, Logger: logging.L("capture")}, ccfg)
	if err != nil {
		return err
	}
	defer b.Close()

	buf := b.AllocImage()
	defer buf.Release()

	status := capture.StatusTimeout
	for i := 0; i < snapshotAttempts && status == capture.StatusTimeout; i++ {
		status = b.Snapshot(buf, ccfg.SnapshotTimeout, cfg.Cursor)
	}
	switch status {
	case capture.StatusOK:
	case capture.StatusReinit:
		return errors.New("display geometry changed during snapshot, try again")
	case capture.StatusError:
		return fmt.Errorf("%s backend: snapshot failed: %w", b.Name(), b.Err())
	default:
		return fmt.Errorf("%s backend: no frame after %d attempts", b.Name(), snapshotAttempts)
	}

	data, err := encode(buf)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logging.L("snapshot").Info("snapshot written", "path", path, "width", buf.Width, "height", buf.Height, "bytes", len(data))
	return nil
}

func encoderFor(path string) (func(*capture.FrameBuffer) ([]byte, error), error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return capture.EncodePNG, nil
	case ".jpg", ".jpeg":
		return func(f *capture.FrameBuffer) ([]byte, error) {
			return capture.EncodeJPEG(f, snapshotQuality)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q (use .png or .jpg)", filepath.Ext(path))
	}
}
