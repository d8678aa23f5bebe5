// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for skillbridge
// components.
//
// Configuration is loaded from a single file specified by:
//   - SKILLBRIDGE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Configuration is
// optional for this layer: every field has a working default, and the
// daemon's bind address always comes from its startup arguments, never
// from the environment.
//
// Durations are stored as Go duration strings ("30s", "10ms") and
// parsed through the accessor methods; Validate rejects files whose
// duration fields do not parse.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the bridge layer.
type Config struct {
	// Client configures defaults for the bridge client library.
	Client ClientConfig `yaml:"client"`

	// Daemon configures the bridge daemon's servicing behavior.
	Daemon DaemonConfig `yaml:"daemon"`
}

// ClientConfig configures the bridge client library.
type ClientConfig struct {
	// Host is the daemon address clients connect to.
	// Default: 127.0.0.1
	Host string `yaml:"host"`

	// Port is the daemon TCP port.
	// Default: 8672
	Port int `yaml:"port"`

	// Timeout bounds how long the interpreter may evaluate one command
	// before the daemon's watchdog interrupts it.
	// Default: 30s
	Timeout string `yaml:"timeout"`
}

// TimeoutDuration returns the parsed Timeout. Call Validate first;
// unparseable values come back as zero.
func (c ClientConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// DaemonConfig configures the bridge daemon.
type DaemonConfig struct {
	// PollInterval is the sleep between empty polls of the interpreter
	// output descriptor while waiting for a framed response.
	// Default: 10ms
	PollInterval string `yaml:"poll_interval"`

	// RequestLimit caps the size of one client request payload in bytes.
	// Default: 1 MiB
	RequestLimit int `yaml:"request_limit"`
}

// PollIntervalDuration returns the parsed PollInterval. Call Validate
// first; unparseable values come back as zero.
func (c DaemonConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0
	}
	return d
}

// Default returns the default configuration. These defaults are a
// usable configuration on their own; the config file only overrides
// them.
func Default() *Config {
	return &Config{
		Client: ClientConfig{
			Host:    "127.0.0.1",
			Port:    8672,
			Timeout: "30s",
		},
		Daemon: DaemonConfig{
			PollInterval: "10ms",
			RequestLimit: 1 << 20,
		},
	}
}

// Load loads configuration from the SKILLBRIDGE_CONFIG environment
// variable, or returns defaults when it is unset.
func Load() (*Config, error) {
	configPath := os.Getenv("SKILLBRIDGE_CONFIG")
	if configPath == "" {
		return Default(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${VAR} and
// ${VAR:-default} in the client host field, for portability between
// workstation and farm environments.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.Client.Host = expandVars(cfg.Client.Host)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandVars expands ${VAR} and ${VAR:-default} patterns against the
// environment.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Client.Host == "" {
		errs = append(errs, fmt.Errorf("client.host is required"))
	}
	if c.Client.Port < 1 || c.Client.Port > 65535 {
		errs = append(errs, fmt.Errorf("client.port must be in 1..65535, got %d", c.Client.Port))
	}
	if d, err := time.ParseDuration(c.Client.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("client.timeout: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("client.timeout must be positive, got %s", d))
	}
	if d, err := time.ParseDuration(c.Daemon.PollInterval); err != nil {
		errs = append(errs, fmt.Errorf("daemon.poll_interval: %w", err))
	} else if d <= 0 {
		errs = append(errs, fmt.Errorf("daemon.poll_interval must be positive, got %s", d))
	}
	if c.Daemon.RequestLimit <= 0 {
		errs = append(errs, fmt.Errorf("daemon.request_limit must be positive, got %d", c.Daemon.RequestLimit))
	}

	return errors.Join(errs...)
}
