// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package proctree resolves parent-process links through /proc. The
// bridge daemon is spawned by the host interpreter through an
// intermediate shell (interpreter → shell → daemon), so the process to
// signal for cancellation sits two parent links above the daemon.
package proctree

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// ParentPID returns the parent process id of pid, read from
// /proc/<pid>/stat.
func ParentPID(pid int) (int, error) {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("proctree: read stat for pid %d: %w", pid, err)
	}
	parent, err := parseStatPPID(stat)
	if err != nil {
		return 0, fmt.Errorf("proctree: pid %d: %w", pid, err)
	}
	return parent, nil
}

// Grandparent returns the pid two parent links above the calling
// process: the parent via the kernel's getppid, then that process's
// parent via its stat entry.
func Grandparent() (int, error) {
	parent := os.Getppid()
	if parent <= 1 {
		return 0, fmt.Errorf("proctree: parent is pid %d, no grandparent to resolve", parent)
	}
	grandparent, err := ParentPID(parent)
	if err != nil {
		return 0, err
	}
	if grandparent <= 1 {
		return 0, fmt.Errorf("proctree: grandparent resolved to pid %d", grandparent)
	}
	return grandparent, nil
}

// parseStatPPID extracts field 4 (ppid) from a /proc/<pid>/stat line.
// The comm field (field 2) is enclosed in parentheses and may itself
// contain spaces and parentheses, so the scan starts after the last ')'
// rather than splitting the whole line on spaces.
func parseStatPPID(stat []byte) (int, error) {
	end := bytes.LastIndexByte(stat, ')')
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line: no comm field")
	}
	fields := bytes.Fields(stat[end+1:])
	// fields[0] is state, fields[1] is ppid.
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat line: %d fields after comm", len(fields))
	}
	ppid, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return 0, fmt.Errorf("malformed ppid field %q: %w", fields[1], err)
	}
	return ppid, nil
}
