// Package config loads array defaults and control-surface settings from
// a YAML file, in the style of the descriptor files the rest of the
// retrieved corpus parses with gopkg.in/yaml.v3.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables §6's control contract exposes plus the
// listen address for the control surface.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DefaultStripSizeKB uint64 `yaml:"default_strip_size_kb"`
	DefaultMaxChildIO  int    `yaml:"default_max_child_io"`

	ProcessWindowSizeKB      int     `yaml:"process_window_size_kb"`
	ProcessMaxBandwidthMBSec float64 `yaml:"process_max_bandwidth_mb_sec"`
}

// Default returns the built-in defaults used when no config file is
// present; absence of a file is not an error.
func Default() *Config {
	return &Config{
		ListenAddr:               "127.0.0.1:7777",
		DefaultStripSizeKB:       64,
		DefaultMaxChildIO:        128,
		ProcessWindowSizeKB:      512,
		ProcessMaxBandwidthMBSec: 0, // unthrottled
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() and overlaying whatever fields the file sets.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
