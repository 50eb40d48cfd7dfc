// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config manages duet configuration: session defaults, data
// paths, and the optional memory sidecar. Values layer as defaults,
// then the TOML file, then environment overrides, then CLI flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config holds all duet settings.
type Config struct {
	// Session defaults, overridable per run by CLI flags.
	Session SessionConfig `toml:"session"`

	// Paths for persistent artifacts.
	Paths PathsConfig `toml:"paths"`

	// Memory sidecar settings.
	Memory MemoryConfig `toml:"memory"`

	// Logging settings.
	Logging LoggingConfig `toml:"logging"`
}

// SessionConfig carries the dialogue knobs.
type SessionConfig struct {
	MaxRounds          int      `toml:"max_rounds"`
	MemRounds          int      `toml:"mem_rounds"`
	TurnTimeoutSecs    int      `toml:"turn_timeout_secs"`
	MaxTokens          int      `toml:"max_tokens"`
	DefaultTemperature float64  `toml:"default_temperature"`
	StopWords          []string `toml:"stop_words"`
	StopWordDetection  bool     `toml:"stop_word_detection"`
	ContextEnabled     bool     `toml:"context_enabled"`
}

// PathsConfig locates on-disk artifacts. Relative paths resolve under
// the data directory.
type PathsConfig struct {
	DataDir        string `toml:"data_dir"`
	DatabasePath   string `toml:"database_path"`
	TranscriptsDir string `toml:"transcripts_dir"`
	LogsDir        string `toml:"logs_dir"`
}

// MemoryConfig selects the memory sidecar implementation.
type MemoryConfig struct {
	// Mode is "off", "http", or "rpc".
	Mode string `toml:"mode"`

	// URL of the HTTP memory service (mode "http").
	URL string `toml:"url"`

	// Command line for the subprocess sidecar (mode "rpc").
	Command string `toml:"command"`
}

// LoggingConfig controls the session log file.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			MaxRounds:          30,
			MemRounds:          8,
			TurnTimeoutSecs:    90,
			MaxTokens:          1024,
			DefaultTemperature: 0.7,
			StopWordDetection:  true,
			ContextEnabled:     false,
		},
		Paths: PathsConfig{
			DataDir:        defaultDataDir(),
			DatabasePath:   "duet.db",
			TranscriptsDir: "transcripts",
			LogsDir:        "logs",
		},
		Memory: MemoryConfig{
			Mode: "off",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".duet"
	}
	return filepath.Join(home, ".duet")
}

// ConfigPath returns the TOML config location under the data directory.
func ConfigPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

// =============================================================================
// LOADING
// =============================================================================

// Load builds the effective configuration: defaults, then the TOML file
// at path when it exists, then environment overrides. A missing file is
// not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies DUET_* environment variables on top of the
// loaded values.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DUET_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("DUET_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MaxRounds = n
		}
	}
	if v := os.Getenv("DUET_MEM_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.MemRounds = n
		}
	}
	if v := os.Getenv("DUET_TURN_TIMEOUT_SECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.TurnTimeoutSecs = n
		}
	}
	if v := os.Getenv("DUET_MEMORY_URL"); v != "" {
		c.Memory.Mode = "http"
		c.Memory.URL = v
	}
	if v := os.Getenv("DUET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// SetDefaults fills empty fields and resolves relative paths against the
// data directory.
func (c *Config) SetDefaults() {
	d := Default()
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = d.Paths.DataDir
	}
	if c.Paths.DatabasePath == "" {
		c.Paths.DatabasePath = d.Paths.DatabasePath
	}
	if c.Paths.TranscriptsDir == "" {
		c.Paths.TranscriptsDir = d.Paths.TranscriptsDir
	}
	if c.Paths.LogsDir == "" {
		c.Paths.LogsDir = d.Paths.LogsDir
	}
	if c.Memory.Mode == "" {
		c.Memory.Mode = "off"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	c.Paths.DatabasePath = c.resolve(c.Paths.DatabasePath)
	c.Paths.TranscriptsDir = c.resolve(c.Paths.TranscriptsDir)
	c.Paths.LogsDir = c.resolve(c.Paths.LogsDir)
}

func (c *Config) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Paths.DataDir, path)
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Session.MaxRounds < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_rounds",
			Message: "must be >= 0",
		})
	}
	if c.Session.MemRounds < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.mem_rounds",
			Message: "must be >= 0",
		})
	}
	if c.Session.TurnTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.turn_timeout_secs",
			Message: "must be > 0",
		})
	}
	if c.Session.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.max_tokens",
			Message: "must be > 0",
		})
	}
	if t := c.Session.DefaultTemperature; t < 0 || t > 2 {
		errs = append(errs, ValidationError{
			Field:   "session.default_temperature",
			Message: "must be in [0, 2]",
		})
	}
	switch c.Memory.Mode {
	case "off", "http", "rpc":
	default:
		errs = append(errs, ValidationError{
			Field:   "memory.mode",
			Message: fmt.Sprintf("unknown mode %q (expected off, http, or rpc)", c.Memory.Mode),
		})
	}
	if c.Memory.Mode == "http" && c.Memory.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "memory.url",
			Message: "required when memory.mode is http",
		})
	}
	if c.Memory.Mode == "rpc" && c.Memory.Command == "" {
		errs = append(errs, ValidationError{
			Field:   "memory.command",
			Message: "required when memory.mode is rpc",
		})
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", c.Logging.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Save writes the configuration as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
