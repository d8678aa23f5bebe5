// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skillbridge-foundation/skillbridge/lib/netutil"
)

const (
	// DefaultPollInterval is the sleep between empty polls of the
	// interpreter output descriptor.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultRequestLimit caps one client request payload.
	DefaultRequestLimit = 1 << 20

	// DefaultTimeout is applied when a request carries no positive
	// timeout.
	DefaultTimeout = 30 * time.Second

	// requestReadTimeout bounds how long a client may take to deliver
	// its request payload. The accept loop is sequential, so a stalled
	// client would otherwise wedge every caller behind it.
	requestReadTimeout = 10 * time.Second
)

// Daemon bridges TCP clients onto a single-threaded interactive
// interpreter reachable through a pair of byte streams.
type Daemon struct {
	// ListenAddr is the TCP address to listen on (e.g. "127.0.0.1:8672").
	ListenAddr string

	// TargetPID is the host interpreter process that receives SIGINT
	// when a request's watchdog fires. Resolved once at startup by
	// walking two parent links (daemon → spawning shell → interpreter).
	TargetPID int

	// InterpreterOutput carries the interpreter's framed responses:
	// the daemon's own stdin when spawned under the interpreter. Start
	// switches it to non-blocking mode.
	InterpreterOutput *os.File

	// InterpreterInput receives command text: the daemon's own stdout.
	// Writes are blocking and unbuffered, so a completed write means
	// the command has left the daemon.
	InterpreterInput io.Writer

	// PollInterval is the sleep between empty polls of the interpreter
	// output descriptor. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// RequestLimit caps the request payload size in bytes. Zero means
	// DefaultRequestLimit.
	RequestLimit int

	// Signal delivers an interrupt to TargetPID. If nil, SIGINT via
	// unix.Kill. Tests substitute a recorder.
	Signal func(pid int) error

	// Logger receives structured log output. If nil, slog.Default().
	// All logging goes to the logger's own destination, never stdout:
	// that stream belongs to the interpreter.
	Logger *slog.Logger

	listener net.Listener
	reader   *pollReader

	// settled is the per-request flag shared between the response
	// reader and the watchdog. It starts false when a request begins
	// and transitions to true exactly once, by whichever of response
	// arrival and watchdog expiry wins the compare-and-swap.
	settled atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func (d *Daemon) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d *Daemon) pollInterval() time.Duration {
	if d.PollInterval > 0 {
		return d.PollInterval
	}
	return DefaultPollInterval
}

func (d *Daemon) requestLimit() int {
	if d.RequestLimit > 0 {
		return d.RequestLimit
	}
	return DefaultRequestLimit
}

// Start binds the listener and begins servicing requests in the
// background. It returns once the listener is accepting, or an error
// if validation or binding fails. The daemon runs until Stop is called
// or the context is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	if d.ListenAddr == "" {
		return fmt.Errorf("bridge: ListenAddr is required")
	}
	if d.TargetPID <= 0 {
		return fmt.Errorf("bridge: TargetPID is required")
	}
	if d.InterpreterOutput == nil {
		return fmt.Errorf("bridge: InterpreterOutput is required")
	}
	if d.InterpreterInput == nil {
		return fmt.Errorf("bridge: InterpreterInput is required")
	}

	reader, err := newPollReader(d.InterpreterOutput)
	if err != nil {
		return err
	}
	d.reader = reader

	listener, err := net.Listen("tcp", d.ListenAddr)
	if err != nil {
		return fmt.Errorf("bridge: failed to listen on %s: %w", d.ListenAddr, err)
	}
	d.listener = listener

	// Between requests the flag rests in the settled state: a request
	// owns it only from its own reset to its own conclusion.
	d.settled.Store(true)

	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		d.acceptLoop(ctx)
	}()

	d.logger().Info("bridge daemon started",
		"listen_addr", listener.Addr().String(),
		"target_pid", d.TargetPID,
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the daemon has not been started.
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Stop shuts down the daemon. The in-flight request, if any, completes
// its full response cycle before Stop returns.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.listener != nil {
		d.listener.Close()
	}
	if d.done != nil {
		<-d.done
	}
}

// Wait blocks until the daemon has stopped.
func (d *Daemon) Wait() {
	if d.done != nil {
		<-d.done
	}
}

// acceptLoop services connections strictly one at a time: accept,
// fully answer, close, then accept again. Callers arriving while a
// request is in flight queue at the OS socket layer and are served in
// arrival order. This serialization is the correctness mechanism that
// keeps two clients from interleaving commands on the interpreter's
// single input stream.
func (d *Daemon) acceptLoop(ctx context.Context) {
	var requestCount int64

	for {
		connection, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				d.logger().Error("accept failed", "error", err)
				continue
			}
		}

		requestCount++
		d.serveConnection(connection, requestCount)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// serveConnection answers one request and closes the connection. Every
// exit path, including daemon-internal faults, writes some response
// and releases the connection: a client is never left hanging and the
// loop never leaks a half-open socket.
func (d *Daemon) serveConnection(connection net.Conn, requestID int64) {
	defer connection.Close()

	logger := d.logger().With("request_id", requestID)
	logger.Debug("connection accepted", "remote_addr", connection.RemoteAddr())

	started := time.Now()
	payload := d.exchange(connection, logger)

	if _, err := connection.Write(payload); err != nil && !netutil.IsExpectedCloseError(err) {
		logger.Error("response write failed", "error", err)
	}
	if tcpConnection, ok := connection.(*net.TCPConn); ok {
		tcpConnection.CloseWrite()
	}

	logger.Debug("request complete",
		"elapsed", time.Since(started),
		"response_bytes", len(payload),
	)
}

// exchange runs one full request cycle against the interpreter and
// returns the payload to relay to the client. Failures at any step
// come back as marked error payloads, never as a missing response.
func (d *Daemon) exchange(connection net.Conn, logger *slog.Logger) []byte {
	connection.SetReadDeadline(time.Now().Add(requestReadTimeout))

	request, err := readRequest(connection, d.requestLimit())
	if err != nil {
		logger.Debug("request decode failed", "error", err)
		return errorPayload("JSONDecodeError: " + err.Error())
	}

	timeout := time.Duration(request.Timeout) * time.Second
	if request.Timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger.Debug("request accepted",
		"command_bytes", len(request.Skill),
		"timeout", timeout,
	)

	// The request now owns the settled flag.
	d.settled.Store(false)

	if discarded := d.reader.drain(); discarded > 0 {
		logger.Debug("discarded stale interpreter output", "bytes", discarded)
	}

	if err := d.writeCommand(request.Skill); err != nil {
		d.settled.Store(true)
		logger.Error("command forward failed", "error", err)
		return errorPayload(err.Error())
	}

	timer := d.armWatchdog(timeout, logger)
	payload, isError, err := d.readFramed()

	// Settle before disarming: if the watchdog expires in this window
	// its compare-and-swap loses and no signal is delivered. Whichever
	// of response arrival and watchdog expiry came first has won; the
	// loser's action is a no-op.
	d.settled.CompareAndSwap(false, true)
	timer.Stop()

	switch {
	case errors.Is(err, errInterrupted):
		logger.Warn("request timed out", "timeout", timeout)
		return errorPayload("TimeoutError")
	case errors.Is(err, io.EOF):
		logger.Error("interpreter output stream closed")
		return errorPayload("interpreter output stream closed")
	case err != nil:
		logger.Error("framed read failed", "error", err)
		return errorPayload(err.Error())
	}

	if isError {
		// Interpreter-side failure: a successful protocol exchange
		// carrying a failed command result. Keep the marker, relay the
		// text untranslated.
		return append([]byte{StartErr}, payload...)
	}
	return payload
}

// writeCommand forwards the command text to the interpreter with
// exactly one trailing newline so the interactive reader evaluates it.
// The write is blocking and unbuffered.
func (d *Daemon) writeCommand(command string) error {
	text := strings.TrimRight(command, "\n") + "\n"
	if _, err := io.WriteString(d.InterpreterInput, text); err != nil {
		return fmt.Errorf("write to interpreter: %w", err)
	}
	return nil
}

// armWatchdog schedules a one-shot interrupt of the interpreter. If
// the request is still unsettled when the timer expires, the watchdog
// wins the flag and delivers SIGINT to TargetPID; the abandoned read
// then observes the flag and synthesizes a timeout response.
func (d *Daemon) armWatchdog(timeout time.Duration, logger *slog.Logger) *time.Timer {
	return time.AfterFunc(timeout, func() {
		if !d.settled.CompareAndSwap(false, true) {
			return
		}
		logger.Warn("watchdog fired, interrupting interpreter",
			"target_pid", d.TargetPID,
			"timeout", timeout,
		)
		if err := d.signalInterrupt(); err != nil {
			logger.Error("interrupt delivery failed",
				"target_pid", d.TargetPID,
				"error", err,
			)
		}
	})
}

func (d *Daemon) signalInterrupt() error {
	if d.Signal != nil {
		return d.Signal(d.TargetPID)
	}
	return unix.Kill(d.TargetPID, unix.SIGINT)
}
