// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Skillbridge is the operator CLI for the bridge daemon. Its exec
// subcommand submits a single SKILL expression (from argv or stdin)
// and prints the interpreter's result; interpreter errors and bridge
// failures exit with status 1.
package main
