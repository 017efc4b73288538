package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

var validMemoryTypes = map[string]bool{
	"system": true,
	"vaapi":  true,
	"cuda":   true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult splits problems into fatals, which must stop startup, and
// warnings for values that were clamped into range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// ValidateTiered checks the config and clamps values that would break pacing
// or scheduling to safe bounds. Clamped values are reported as warnings.
func (c *Config) ValidateTiered() ValidationResult {
	var result ValidationResult

	if err := validateOutput(c.Output); err != nil {
		result.Fatals = append(result.Fatals, err)
	}

	if !validMemoryTypes[strings.ToLower(c.MemoryType)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("memory_type %q is not valid (use system, vaapi, cuda)", c.MemoryType))
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		result.Fatals = append(result.Fatals, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	w := &result.Warnings
	c.Framerate = clamp(w, "framerate", c.Framerate, 1, 240)
	c.RefreshIntervalMs = clamp(w, "refresh_interval_ms", c.RefreshIntervalMs, 250, 60000)
	c.SnapshotTimeoutMs = clamp(w, "snapshot_timeout_ms", c.SnapshotTimeoutMs, 1, 10000)
	c.CaptureNice = clamp(w, "capture_nice", c.CaptureNice, -20, 19)
	c.WorkerCount = clamp(w, "worker_count", c.WorkerCount, 1, 64)
	c.WorkerQueueSize = clamp(w, "worker_queue_size", c.WorkerQueueSize, 1, 4096)
	c.StatsIntervalSeconds = clamp(w, "stats_interval_seconds", c.StatsIntervalSeconds, 1, 3600)
	c.ReinitDelayMs = clamp(w, "reinit_delay_ms", c.ReinitDelayMs, 0, 30000)

	for _, err := range result.Warnings {
		slog.Warn("config validation", "error", err)
	}

	return result
}

// Validate returns every problem ValidateTiered finds, fatals first.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	return append(result.Fatals, result.Warnings...)
}

func validateOutput(output string) error {
	switch strings.ToLower(strings.TrimSpace(output)) {
	case "", "all", "primary":
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil || n < 0 {
		return fmt.Errorf("output %q is not valid (use all, primary or an output index)", output)
	}
	return nil
}

func clamp(errs *[]error, key string, v, lo, hi int) int {
	switch {
	case v < lo:
		*errs = append(*errs, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	case v > hi:
		*errs = append(*errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}
