// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the skillbridge
// binaries. Fatal error reporting happens before the structured logger is
// configured, so it is the one place a binary writes raw output to stderr.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized. The daemon never writes to stdout: that descriptor
// carries command text to the host interpreter.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
