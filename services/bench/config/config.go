// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads kernelbench settings from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/kernelbench/pkg/logging"
	"github.com/AleutianAI/kernelbench/services/bench/sizes"
	"github.com/AleutianAI/kernelbench/services/bench/telemetry"
)

// ErrInvalidConfig indicates the loaded configuration failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full kernelbench configuration.
type Config struct {
	Bench     BenchConfig      `yaml:"bench"`
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// BenchConfig holds run defaults. CLI flags and API requests override them.
type BenchConfig struct {
	Kernel  string        `yaml:"kernel" validate:"required"`
	Sizes   string        `yaml:"sizes" validate:"required,sizelist"`
	MinTime time.Duration `yaml:"min_time" validate:"gt=0"`
	Warmup  int           `yaml:"warmup" validate:"gte=0,lte=10000"`

	// MaxRepetitions caps the timed loop per size. Zero keeps the driver default.
	MaxRepetitions int `yaml:"max_repetitions" validate:"gte=0"`

	// MaxSize is the largest input an FFT kernel allocates. Zero keeps the kernel default.
	MaxSize int    `yaml:"max_size" validate:"gte=0"`
	Seed    uint64 `yaml:"seed"`

	// BytesPerElement overrides the kernel's cost for throughput. Zero uses the kernel's.
	BytesPerElement int `yaml:"bytes_per_element" validate:"gte=0"`

	RegressionThreshold float64 `yaml:"regression_threshold" validate:"gt=0,lte=10"`

	// GCBetweenSizes forces a garbage collection before every size.
	GCBetweenSizes bool `yaml:"gc_between_sizes"`
}

// ServerConfig configures `kernelbench serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`

	// RateLimit is the requests per second accepted on run endpoints. Zero disables.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`

	// MaxSizes bounds the sizes in one API request.
	MaxSizes int `yaml:"max_sizes" validate:"gt=0"`

	// MaxMinTime bounds the per-size budget an API request may ask for.
	MaxMinTime time.Duration `yaml:"max_min_time" validate:"gt=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

// StorageConfig locates the baseline database.
type StorageConfig struct {
	Path     string `yaml:"path" validate:"required_without=InMemory"`
	InMemory bool   `yaml:"in_memory"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// LoggerConfig converts the section to a logging.Config.
func (c LoggingConfig) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		JSON:    c.JSON,
		LogDir:  c.Dir,
		Service: "kernelbench",
	}, nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Bench: BenchConfig{
			Kernel:              "fft-forward",
			Sizes:               "pow2:16..8192",
			MinTime:             500 * time.Millisecond,
			Warmup:              1,
			Seed:                1,
			RegressionThreshold: 0.10,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			RateLimit:       1,
			RateBurst:       3,
			MaxSizes:        64,
			MaxMinTime:      10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path: filepath.Join("~", ".kernelbench", "baselines"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultPath returns ~/.kernelbench/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".kernelbench", "config.yaml"), nil
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("sizelist", func(fl validator.FieldLevel) bool {
			_, err := sizes.Parse(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Bench.MinTime > c.Server.MaxMinTime {
		return fmt.Errorf("%w: bench.min_time %v exceeds server.max_min_time %v",
			ErrInvalidConfig, c.Bench.MinTime, c.Server.MaxMinTime)
	}
	return nil
}

// Load reads path over the defaults. A missing file yields the defaults.
// An empty path uses DefaultPath.
//
// Outputs:
//   - *Config: The merged, validated configuration with ~ expanded in paths.
//   - error: Read, parse or validation failure. Validation failures wrap
//     ErrInvalidConfig.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read the config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	cfg.Storage.Path = expandPath(cfg.Storage.Path)
	cfg.Logging.Dir = expandPath(cfg.Logging.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Write saves cfg as YAML, creating parent directories.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to write the config file %s: %w", path, err)
	}
	if err := Encode(f, cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Encode writes cfg as YAML to w.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode the config: %w", err)
	}
	return enc.Close()
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
