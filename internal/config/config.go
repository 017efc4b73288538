package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Display              string `mapstructure:"display"`
	Output               string `mapstructure:"output"`
	Framerate            int    `mapstructure:"framerate"`
	MemoryType           string `mapstructure:"memory_type"`
	Cursor               bool   `mapstructure:"cursor"`
	RefreshIntervalMs    int    `mapstructure:"refresh_interval_ms"`
	SnapshotTimeoutMs    int    `mapstructure:"snapshot_timeout_ms"`
	CaptureNice          int    `mapstructure:"capture_nice"`
	WorkerCount          int    `mapstructure:"worker_count"`
	WorkerQueueSize      int    `mapstructure:"worker_queue_size"`
	StatsIntervalSeconds int    `mapstructure:"stats_interval_seconds"`
	ReinitDelayMs        int    `mapstructure:"reinit_delay_ms"`
	LogLevel             string `mapstructure:"log_level"`
	LogFormat            string `mapstructure:"log_format"`
	LogFile              string `mapstructure:"log_file"`
	LogMaxSizeMB         int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups        int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Framerate:            60,
		MemoryType:           "system",
		Cursor:               true,
		RefreshIntervalMs:    2000,
		SnapshotTimeoutMs:    1000,
		WorkerCount:          2,
		WorkerQueueSize:      16,
		StatsIntervalSeconds: 10,
		ReinitDelayMs:        250,
		LogLevel:             "info",
		LogFormat:            "text",
		LogMaxSizeMB:         20,
		LogMaxBackups:        3,
	}
}

// Load reads the config file (explicit path, or streamhost.yaml in the
// platform config dir or the working directory) and STREAMHOST_* env vars on
// top of the defaults. A missing config file is not an error.
func Load(cfgFile string) (*Config, error) {
	return load(viper.New(), cfgFile)
}

func load(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("streamhost")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STREAMHOST")
	v.AutomaticEnv()
	bindEnv(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnv registers every key with viper so AutomaticEnv values reach
// Unmarshal even when the key is absent from the file.
func bindEnv(v *viper.Viper, cfg *Config) {
	v.SetDefault("display", cfg.Display)
	v.SetDefault("output", cfg.Output)
	v.SetDefault("framerate", cfg.Framerate)
	v.SetDefault("memory_type", cfg.MemoryType)
	v.SetDefault("cursor", cfg.Cursor)
	v.SetDefault("refresh_interval_ms", cfg.RefreshIntervalMs)
	v.SetDefault("snapshot_timeout_ms", cfg.SnapshotTimeoutMs)
	v.SetDefault("capture_nice", cfg.CaptureNice)
	v.SetDefault("worker_count", cfg.WorkerCount)
	v.SetDefault("worker_queue_size", cfg.WorkerQueueSize)
	v.SetDefault("stats_interval_seconds", cfg.StatsIntervalSeconds)
	v.SetDefault("reinit_delay_ms", cfg.ReinitDelayMs)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
}

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

func (c *Config) SnapshotTimeout() time.Duration {
	return time.Duration(c.SnapshotTimeoutMs) * time.Millisecond
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

func (c *Config) ReinitDelay() time.Duration {
	return time.Duration(c.ReinitDelayMs) * time.Millisecond
}

func configDir() string {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Application Support/Streamhost"
	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, "streamhost")
		}
		return "/etc/streamhost"
	}
}
