// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package config holds the settings of a chatvault database and its
// background workers.
//
// A Config starts from DefaultConfig and is adjusted with functional options
// or loaded from a YAML file:
//
//	path: /var/lib/chatvault
//	thumbnails:
//	  short_edge: 256
//	  quality: 80
//	sweep:
//	  background: true
//	  batch_size: 100
//	  retry_delay: 1s
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for a chatvault database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string `yaml:"path"`

	// InMemory keeps the whole database in memory. Intended for tests.
	// Records over 1 MiB, such as a message carrying a large inline image
	// or a large blob, fail with storage.ErrValueTooLarge.
	InMemory bool `yaml:"in_memory"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`

	Thumbnails ThumbnailConfig `yaml:"thumbnails"`
	Sweep      SweepConfig     `yaml:"sweep"`
}

// ThumbnailConfig configures the thumbnail pipeline.
type ThumbnailConfig struct {
	// Enabled turns thumbnail generation on. Default: true
	Enabled bool `yaml:"enabled"`

	// ShortEdge bounds the shorter side of a thumbnail in pixels. Default: 256
	ShortEdge int `yaml:"short_edge"`

	// Quality is the JPEG quality, 1 to 100. Default: 80
	Quality int `yaml:"quality"`

	// Workers is the worker pool size. 0 picks one per two CPUs.
	Workers int `yaml:"workers"`
}

// SweepConfig configures the background inline image sweep and the batch
// maintenance passes.
type SweepConfig struct {
	// Background runs the inline image sweep after the database opens.
	// Default: true
	Background bool `yaml:"background"`

	// BatchSize is the number of records per transaction. Default: 100
	BatchSize int `yaml:"batch_size"`

	// MaxRetries is the number of attempts per batch. Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay between attempts. Default: 1s
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithPath sets the database directory.
func WithPath(path string) ConfigOption {
	return func(c *Config) {
		c.Path = path
	}
}

// WithInMemory keeps the database in memory.
func WithInMemory(inMemory bool) ConfigOption {
	return func(c *Config) {
		c.InMemory = inMemory
	}
}

// WithLogLevel sets the log level name.
func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

// WithThumbnails turns thumbnail generation on or off.
func WithThumbnails(enabled bool) ConfigOption {
	return func(c *Config) {
		c.Thumbnails.Enabled = enabled
	}
}

// WithThumbnailSize sets the thumbnail short edge and JPEG quality.
func WithThumbnailSize(shortEdge, quality int) ConfigOption {
	return func(c *Config) {
		c.Thumbnails.ShortEdge = shortEdge
		c.Thumbnails.Quality = quality
	}
}

// WithThumbnailWorkers sets the thumbnail worker pool size.
func WithThumbnailWorkers(workers int) ConfigOption {
	return func(c *Config) {
		c.Thumbnails.Workers = workers
	}
}

// WithBackgroundSweep turns the background inline image sweep on or off.
func WithBackgroundSweep(enabled bool) ConfigOption {
	return func(c *Config) {
		c.Sweep.Background = enabled
	}
}

// WithBatchSize sets the sweep batch size.
func WithBatchSize(size int) ConfigOption {
	return func(c *Config) {
		c.Sweep.BatchSize = size
	}
}

// WithRetry sets the attempts per batch and the base retry delay.
func WithRetry(maxRetries int, delay time.Duration) ConfigOption {
	return func(c *Config) {
		c.Sweep.MaxRetries = maxRetries
		c.Sweep.RetryDelay = delay
	}
}

// DefaultConfig returns a Config with sensible defaults. Path is left empty.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Thumbnails: ThumbnailConfig{
			Enabled:   true,
			ShortEdge: 256,
			Quality:   80,
		},
		Sweep: SweepConfig{
			Background: true,
			BatchSize:  100,
			MaxRetries: 3,
			RetryDelay: time.Second,
		},
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithPath("/var/lib/chatvault"),
//	    WithThumbnailSize(128, 70),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string, opts ...ConfigOption) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Normalize ensures the configuration is in a canonical form.
func (c *Config) Normalize() {
	c.Path = strings.TrimSpace(c.Path)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Path != "" {
		c.Path = filepath.Clean(c.Path)
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.Path == "" && !c.InMemory {
		return errors.New("config: Path is required unless InMemory is set")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Thumbnails.ShortEdge < 1 {
		return errors.New("config: Thumbnails.ShortEdge must be positive")
	}
	if c.Thumbnails.Quality < 1 || c.Thumbnails.Quality > 100 {
		return errors.New("config: Thumbnails.Quality must be between 1 and 100")
	}
	if c.Thumbnails.Workers < 0 {
		return errors.New("config: Thumbnails.Workers cannot be negative")
	}
	if c.Sweep.BatchSize < 1 {
		return errors.New("config: Sweep.BatchSize must be positive")
	}
	if c.Sweep.MaxRetries < 1 {
		return errors.New("config: Sweep.MaxRetries must be positive")
	}
	if c.Sweep.RetryDelay < 0 {
		return errors.New("config: Sweep.RetryDelay cannot be negative")
	}
	return nil
}

// ParseLevel maps a log level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", name)
	}
}
