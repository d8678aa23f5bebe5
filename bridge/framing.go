// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"time"
)

// Framing markers on the interpreter output stream. A well-formed
// response is one start marker, an arbitrary payload that contains
// none of the three reserved bytes, and the end marker.
const (
	// StartOK opens a successful response frame.
	StartOK byte = 0x02
	// StartErr opens an error response frame. It is also the leading
	// byte of every daemon-synthesized failure payload, so clients
	// classify interpreter faults and daemon faults uniformly.
	StartErr byte = 0x15
	// End closes a response frame.
	End byte = 0x03
)

// errInterrupted reports that the watchdog settled the request before
// any start marker arrived. The caller answers with a synthetic
// timeout payload and abandons the read; whatever the interpreter
// emits later is stale output for the next request's drain to discard.
var errInterrupted = errors.New("bridge: watchdog fired before response start")

// errorPayload builds a daemon-synthesized failure response carrying
// the error-start marker as its first byte.
func errorPayload(detail string) []byte {
	return append([]byte{StartErr}, detail...)
}

// readFramed scans the interpreter output for one framed response.
//
// Before a start marker is seen, the loop polls the non-blocking
// descriptor, sleeping PollInterval between empty reads and checking
// the settled flag each iteration; a raised flag aborts the wait with
// errInterrupted. Bytes arriving before any start marker (interpreter
// banners, prompt echoes) are dropped.
//
// Once a start marker is seen the frame is read to completion: a late
// watchdog may still fire and signal the interpreter, but it can no
// longer truncate a response already in flight.
func (d *Daemon) readFramed() (payload []byte, isError bool, err error) {
	interval := d.pollInterval()
	inFrame := false
	for {
		b, ok, readErr := d.reader.tryByte()
		if readErr != nil {
			return nil, false, readErr
		}
		if !ok {
			if !inFrame && d.settled.Load() {
				return nil, false, errInterrupted
			}
			time.Sleep(interval)
			continue
		}
		if !inFrame {
			switch b {
			case StartOK:
				inFrame = true
			case StartErr:
				inFrame = true
				isError = true
			}
			continue
		}
		if b == End {
			return payload, isError, nil
		}
		payload = append(payload, b)
	}
}
