// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build version information for the skillbridge
// binaries. The variables are set at link time:
//
//	go build -ldflags "-X .../lib/version.Version=v0.3.0 -X .../lib/version.Commit=abc1234"
package version

var (
	// Version is the semantic version of the build, or "dev" for
	// unreleased builds.
	Version = "dev"

	// Commit is the short VCS revision the binary was built from.
	Commit = ""
)

// Info returns a human-readable version string for --version output.
func Info() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
