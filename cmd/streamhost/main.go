package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/streamhost/internal/capture"
	"github.com/breeze-rmm/streamhost/internal/capture/x11"
	"github.com/breeze-rmm/streamhost/internal/config"
	"github.com/breeze-rmm/streamhost/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string

	flagDisplay   string
	flagOutput    string
	flagFramerate int
	flagMemory    string
	flagCursor    bool
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:          "streamhost",
	Short:        "Display capture host",
	Long:         `streamhost captures one display output at a fixed framerate for a streaming encoder`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("streamhost v%s\n", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is /etc/streamhost/streamhost.yaml)")
	pf.StringVar(&flagDisplay, "display", "", "X display to capture (default $DISPLAY)")
	pf.StringVar(&flagOutput, "output", "", `output to stream: index, "primary" or "all"`)
	pf.IntVar(&flagFramerate, "framerate", 0, "target frames per second")
	pf.StringVar(&flagMemory, "memory", "", "frame memory: system, vaapi or cuda")
	pf.BoolVar(&flagCursor, "cursor", true, "composite the hardware cursor")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config, applies command-line overrides, validates it
// and initializes logging. The returned closer flushes the log file.
func loadConfig(cmd *cobra.Command) (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("display") {
		cfg.Display = flagDisplay
	}
	if flags.Changed("output") {
		cfg.Output = flagOutput
	}
	if flags.Changed("framerate") {
		cfg.Framerate = flagFramerate
	}
	if flags.Changed("memory") {
		cfg.MemoryType = flagMemory
	}
	if flags.Changed("cursor") {
		cfg.Cursor = flagCursor
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}

	w, closer, err := logging.OpenOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)

	result := cfg.ValidateTiered()
	if result.HasFatals() {
		closer.Close()
		return nil, nil, fmt.Errorf("invalid config: %w", errors.Join(result.Fatals...))
	}
	return cfg, closer, nil
}

func captureConfig(cfg *config.Config) (capture.Config, error) {
	sel, err := capture.ParseOutputSelector(cfg.Output)
	if err != nil {
		return capture.Config{}, err
	}
	mem, err := capture.ParseMemoryStrategy(cfg.MemoryType)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		Framerate:       cfg.Framerate,
		Output:          sel,
		Memory:          mem,
		RefreshInterval: cfg.RefreshInterval(),
		SnapshotTimeout: cfg.SnapshotTimeout(),
	}, nil
}

func dialer(cfg *config.Config) capture.Dialer {
	return x11.Dialer{Display: cfg.Display}
}
