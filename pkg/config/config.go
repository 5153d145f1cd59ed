// Package config loads msys's process-wide defaults from (in decreasing
// priority) environment variables and an optional YAML file, the same
// layering the monitor example uses for its watcher config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configurable default a System or meter needs unless
// overridden by a CLI flag.
type Config struct {
	LogLevel string // debug|info|warn|error
	LogDir   string // directory msys writes its own logs and status to

	OutputDir           string        // directory meters write their .cbor.bin files to
	DefaultSamplePeriod time.Duration // tick period shared by every meter in a system
	WriteThresholdBytes int           // wire-size threshold that triggers an async flush

	DiskDevices []string // block devices DiskMeter samples, e.g. ["sda", "nvme0n1"]
	MemProbes   []string // mem.Probe names MemMeter samples; empty means all
}

// Load reads configuration from environment variables (prefixed MSYS_,
// e.g. MSYS_OUTPUTDIR) and an optional msys.yaml in ./configs or /etc/msys, falling back
// to sensible defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogDir", "./var/log/msys")
	v.SetDefault("OutputDir", "./var/lib/msys")
	v.SetDefault("DefaultSamplePeriod", time.Second)
	v.SetDefault("WriteThresholdBytes", 4<<20)
	v.SetDefault("DiskDevices", []string{})
	v.SetDefault("MemProbes", []string{})

	v.SetEnvPrefix("MSYS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigName("msys")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/msys")
	_ = v.ReadInConfig() // config file is optional

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if cfg.OutputDir == "" {
		return nil, fmt.Errorf("config: OutputDir must not be empty")
	}
	if cfg.DefaultSamplePeriod <= 0 {
		return nil, fmt.Errorf("config: DefaultSamplePeriod must be > 0")
	}
	if cfg.WriteThresholdBytes <= 0 {
		return nil, fmt.Errorf("config: WriteThresholdBytes must be > 0")
	}

	return &cfg, nil
}
