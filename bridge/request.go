// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
)

// Request is the wire form of one client call. Skill is opaque command
// text forwarded verbatim to the interpreter; Timeout bounds, in
// seconds, how long the daemon waits for a framed response before the
// watchdog interrupts the interpreter.
type Request struct {
	Skill   string `json:"skill"`
	Timeout int    `json:"timeout"`
}

// readRequest accumulates bytes from the connection until they parse as
// a complete JSON request, the peer closes its write side, or the size
// cap is exceeded. The wire format has no length prefix, so "payload
// complete" means "parses as JSON": clients send the request in a
// single write and partial JSON simply fails to parse until the rest
// arrives.
func readRequest(connection net.Conn, limit int) (Request, error) {
	var request Request
	buffer := make([]byte, 0, 1024)
	chunk := make([]byte, 4096)
	for {
		n, err := connection.Read(chunk)
		if n > 0 {
			buffer = append(buffer, chunk[:n]...)
			if len(buffer) > limit {
				return request, fmt.Errorf("request exceeds %d byte limit", limit)
			}
			if unmarshalErr := json.Unmarshal(buffer, &request); unmarshalErr == nil {
				return request, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				// Final parse so the error reported is the JSON
				// failure, not the EOF that revealed it.
				if unmarshalErr := json.Unmarshal(buffer, &request); unmarshalErr != nil {
					return request, unmarshalErr
				}
				return request, nil
			}
			return request, err
		}
	}
}
