// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skillbridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
	if cfg.Client.Port != 8672 {
		t.Fatalf("unexpected default port %d", cfg.Client.Port)
	}
	if cfg.Client.TimeoutDuration() != 30*time.Second {
		t.Fatalf("unexpected default timeout %s", cfg.Client.Timeout)
	}
}

func TestLoad_NoEnvReturnsDefaults(t *testing.T) {
	t.Setenv("SKILLBRIDGE_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Host != "127.0.0.1" {
		t.Fatalf("unexpected host %q", cfg.Client.Host)
	}
}

func TestLoadFile_Overrides(t *testing.T) {
	path := writeConfig(t, `
client:
  host: bridgehost.example
  port: 9100
  timeout: 5s
daemon:
  poll_interval: 25ms
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Client.Host != "bridgehost.example" {
		t.Fatalf("host override not applied: %q", cfg.Client.Host)
	}
	if cfg.Client.Port != 9100 {
		t.Fatalf("port override not applied: %d", cfg.Client.Port)
	}
	if cfg.Client.TimeoutDuration() != 5*time.Second {
		t.Fatalf("timeout override not applied: %s", cfg.Client.Timeout)
	}
	if cfg.Daemon.PollIntervalDuration() != 25*time.Millisecond {
		t.Fatalf("poll interval override not applied: %s", cfg.Daemon.PollInterval)
	}
	// Unset fields keep their defaults.
	if cfg.Daemon.RequestLimit != 1<<20 {
		t.Fatalf("request limit default lost: %d", cfg.Daemon.RequestLimit)
	}
}

func TestLoadFile_ExpandsHostVariable(t *testing.T) {
	t.Setenv("FARM_HEAD_NODE", "lnx-farm-07")
	path := writeConfig(t, "client:\n  host: ${FARM_HEAD_NODE}\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Client.Host != "lnx-farm-07" {
		t.Fatalf("expansion not applied: %q", cfg.Client.Host)
	}
}

func TestLoadFile_ExpandsDefaultValue(t *testing.T) {
	t.Setenv("FARM_HEAD_NODE", "")
	path := writeConfig(t, "client:\n  host: ${FARM_HEAD_NODE:-127.0.0.1}\n")
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Client.Host != "127.0.0.1" {
		t.Fatalf("default expansion not applied: %q", cfg.Client.Host)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		substr  string
	}{
		{"bad port", "client:\n  port: 70000\n", "client.port"},
		{"negative timeout", "client:\n  timeout: -1s\n", "client.timeout"},
		{"unparseable timeout", "client:\n  timeout: soon\n", "client.timeout"},
		{"zero poll interval", "daemon:\n  poll_interval: -5ms\n", "daemon.poll_interval"},
		{"not yaml", "{{{{", "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("error %q does not mention %q", err, tc.substr)
			}
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
