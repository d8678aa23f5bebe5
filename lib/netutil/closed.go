// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection reset.
//
// The bridge daemon fully closes its client connection after every
// request, and clients half-close their write side to signal end of
// request. Both teardown sequences can surface ECONNRESET or EPIPE on
// whichever side still has an in-flight read or write. All four error
// shapes are expected and should not be logged as faults.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
