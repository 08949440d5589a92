// Package config loads memtrace settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DB      string        `yaml:"db"`
	Log     LogConfig     `yaml:"log"`
	Output  OutputConfig  `yaml:"output"`
	Workers WorkersConfig `yaml:"workers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type OutputConfig struct {
	Format string `yaml:"format"` // json, text or auto
}

type WorkersConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "warn", Format: "console"},
		Output:  OutputConfig{Format: "json"},
		Workers: WorkersConfig{Parallelism: runtime.NumCPU()},
	}
}

// Path picks the config file: explicit flag, then $MEMTRACE_CONFIG, then ~/.memtrace/config.yaml.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("MEMTRACE_CONFIG"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".memtrace", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Output.Format {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("output.format %q (valid: json, text, auto)", c.Output.Format)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q (valid: json, console)", c.Log.Format)
	}
	if c.Workers.Parallelism < 1 {
		c.Workers.Parallelism = 1
	}
	return nil
}
