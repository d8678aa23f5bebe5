// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Skillbridge-daemon bridges TCP clients onto an interactive SKILL
// interpreter. It is spawned by the interpreter through a shell with
// its stdin reading the interpreter's framed output and its stdout
// feeding the interpreter's command input; logging goes to stderr.
//
// At startup it resolves the interpreter's pid (its own grandparent in
// the expected process tree, overridable with --target-pid) so that
// the per-request watchdog can interrupt a stuck evaluation with
// SIGINT. Shutdown is SIGTERM only: SIGINT reaching the process group
// is the interpreter's concern, and the daemon must survive it.
package main
