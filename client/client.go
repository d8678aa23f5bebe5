// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package client is the thin calling side of the skillbridge protocol:
// it submits one SKILL command per TCP connection to the bridge daemon
// and returns the raw textual result.
//
// Results follow the interpreter's own convention: a payload whose
// first byte is the error marker is a failure (interpreter error,
// daemon timeout, or malformed request); anything else is the
// command's verbatim output. [IsError] classifies a payload. The
// bridge layer guarantees nothing about payload content above the
// marker — empty results, "t", and similar interpreter quirks are for
// the caller to interpret.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/skillbridge-foundation/skillbridge/bridge"
	"github.com/skillbridge-foundation/skillbridge/lib/netutil"
)

const (
	// DefaultHost is used when neither the Client nor the environment
	// names a daemon host.
	DefaultHost = "127.0.0.1"
	// DefaultPort is the daemon's well-known port.
	DefaultPort = 8672
	// DefaultTimeout bounds interpreter evaluation when the Client has
	// no explicit timeout.
	DefaultTimeout = 30 * time.Second

	// EnvHost and EnvPort override the defaults from the environment.
	EnvHost = "SKILLBRIDGE_HOST"
	EnvPort = "SKILLBRIDGE_PORT"

	// dialTimeout bounds connection establishment; readSlack is added
	// on top of the evaluation timeout for the response read deadline,
	// covering the daemon's polling granularity and response relay.
	dialTimeout = 5 * time.Second
	readSlack   = 5 * time.Second
)

// Client submits commands to a bridge daemon. The zero value is usable
// and resolves host, port, and timeout from the environment and the
// package defaults.
type Client struct {
	// Host is the daemon address. Empty means $SKILLBRIDGE_HOST,
	// falling back to DefaultHost.
	Host string

	// Port is the daemon TCP port. Zero means $SKILLBRIDGE_PORT,
	// falling back to DefaultPort.
	Port int

	// Timeout bounds interpreter evaluation for calls from this
	// client. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives transport failure reports from Execute. If nil,
	// slog.Default().
	Logger *slog.Logger
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) host() string {
	if c.Host != "" {
		return c.Host
	}
	if host := os.Getenv(EnvHost); host != "" {
		return host
	}
	return DefaultHost
}

func (c *Client) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if value := os.Getenv(EnvPort); value != "" {
		if port, err := strconv.Atoi(value); err == nil && port > 0 && port <= 65535 {
			return port
		}
	}
	return DefaultPort
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Addr returns the daemon address this client dials.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host(), strconv.Itoa(c.port()))
}

// Do submits one command and returns the daemon's payload verbatim,
// including a leading error marker when the exchange failed. A new
// connection is opened per call; the daemon serializes requests, so
// pooling would buy nothing.
func (c *Client) Do(ctx context.Context, command string) (string, error) {
	timeout := c.timeout()
	seconds := int(timeout / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	request, err := json.Marshal(bridge.Request{Skill: command, Timeout: seconds})
	if err != nil {
		return "", fmt.Errorf("client: encode request: %w", err)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	connection, err := dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return "", fmt.Errorf("client: connect to bridge daemon at %s: %w", c.Addr(), err)
	}
	defer connection.Close()

	// The response must arrive within the evaluation timeout plus the
	// daemon's bounded overhead; a dead daemon must not hang the caller.
	connection.SetDeadline(time.Now().Add(timeout + readSlack))

	if _, err := connection.Write(request); err != nil {
		return "", fmt.Errorf("client: send request: %w", err)
	}
	if tcpConnection, ok := connection.(*net.TCPConn); ok {
		tcpConnection.CloseWrite()
	}

	payload, err := io.ReadAll(connection)
	if err != nil && !netutil.IsExpectedCloseError(err) {
		return "", fmt.Errorf("client: read response: %w", err)
	}
	return string(payload), nil
}

// Execute is the boundary API for agent callers: it never returns an
// error. Transport failures are logged and come back as the empty
// string, so a bridge outage degrades a single call instead of
// crashing the calling loop. Protocol and interpreter failures arrive
// as marked payloads; use [IsError] to classify.
func (c *Client) Execute(ctx context.Context, command string) string {
	result, err := c.Do(ctx, command)
	if err != nil {
		c.logger().Error("bridge call failed", "addr", c.Addr(), "error", err)
		return ""
	}
	return result
}

// IsError reports whether payload carries the leading error marker.
func IsError(payload string) bool {
	return len(payload) > 0 && payload[0] == bridge.StartErr
}

// ErrorText strips the leading error marker from a failure payload,
// returning the bare diagnostic text. Non-error payloads are returned
// unchanged.
func ErrorText(payload string) string {
	if IsError(payload) {
		return payload[1:]
	}
	return payload
}
