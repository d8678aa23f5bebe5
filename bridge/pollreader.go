// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pollReader reads the interpreter output descriptor without blocking.
// The descriptor is switched to non-blocking mode once at construction;
// reads go through unix.Read on the raw fd so that an empty pipe
// returns EAGAIN instead of parking the read loop, which must keep
// checking the watchdog flag while it waits.
type pollReader struct {
	fd      int
	scratch [512]byte
	pending []byte
}

// newPollReader places file's descriptor in non-blocking mode and
// wraps it. The file must stay open for the lifetime of the reader.
func newPollReader(file *os.File) (*pollReader, error) {
	fd := int(file.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("bridge: set interpreter output non-blocking: %w", err)
	}
	return &pollReader{fd: fd}, nil
}

// tryByte returns the next byte if one is available without blocking.
// ok is false when the descriptor has nothing buffered. A closed
// descriptor surfaces as io.EOF.
func (r *pollReader) tryByte() (b byte, ok bool, err error) {
	if len(r.pending) == 0 {
		n, readErr := unix.Read(r.fd, r.scratch[:])
		if readErr != nil {
			if readErr == unix.EAGAIN || readErr == unix.EWOULDBLOCK || readErr == unix.EINTR {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("bridge: read interpreter output: %w", readErr)
		}
		if n == 0 {
			return 0, false, io.EOF
		}
		r.pending = r.scratch[:n]
	}
	b = r.pending[0]
	r.pending = r.pending[1:]
	return b, true, nil
}

// drain discards every byte currently readable on the descriptor and
// returns how many were thrown away. Called before each new command is
// written, so that a response abandoned by an earlier timeout cannot
// attach itself to the next request.
func (r *pollReader) drain() int {
	discarded := len(r.pending)
	r.pending = nil
	for {
		n, err := unix.Read(r.fd, r.scratch[:])
		if err != nil || n == 0 {
			return discarded
		}
		discarded += n
	}
}
