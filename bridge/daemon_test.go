// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/skillbridge-foundation/skillbridge/lib/testutil"
)

// fakeInterpreter stands in for the host interpreter: Commands yields
// each line the daemon forwards, and frames written to Output appear
// on the daemon's interpreter-output descriptor.
type fakeInterpreter struct {
	Commands chan string
	Output   *os.File
}

func okFrame(payload string) []byte {
	return append(append([]byte{StartOK}, payload...), End)
}

func errFrame(payload string) []byte {
	return append(append([]byte{StartErr}, payload...), End)
}

// startDaemon wires a Daemon to pipe-backed interpreter streams and
// starts it on a loopback port. The watchdog signal function is a
// no-op unless the test substitutes its own via configure.
func startDaemon(t *testing.T, configure func(*Daemon)) (*Daemon, *fakeInterpreter) {
	t.Helper()

	outputRead, outputWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		outputRead.Close()
		outputWrite.Close()
	})

	inputRead, inputWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	t.Cleanup(func() {
		inputRead.Close()
		inputWrite.Close()
	})

	commands := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(inputRead)
		for scanner.Scan() {
			commands <- scanner.Text()
		}
	}()

	daemon := &Daemon{
		ListenAddr:        "127.0.0.1:0",
		TargetPID:         424242,
		InterpreterOutput: outputRead,
		InterpreterInput:  inputWrite,
		PollInterval:      time.Millisecond,
		Signal:            func(int) error { return nil },
	}
	if configure != nil {
		configure(daemon)
	}
	if err := daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(daemon.Stop)

	return daemon, &fakeInterpreter{Commands: commands, Output: outputWrite}
}

// dial performs one raw client exchange: connect, single write,
// write-side shutdown, read to EOF.
func dial(address, request string) (string, error) {
	connection, err := net.Dial("tcp", address)
	if err != nil {
		return "", err
	}
	defer connection.Close()
	connection.SetDeadline(time.Now().Add(10 * time.Second))

	if _, err := connection.Write([]byte(request)); err != nil {
		return "", err
	}
	connection.(*net.TCPConn).CloseWrite()

	response, err := io.ReadAll(connection)
	if err != nil {
		return "", err
	}
	return string(response), nil
}

// call is dial with test-fataling error handling, for the sequential
// tests that run on the test goroutine.
func call(t *testing.T, address, request string) string {
	t.Helper()
	response, err := dial(address, request)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	return response
}

func TestRoundTrip(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	forwarded := make(chan string, 1)
	go func() {
		select {
		case command := <-interpreter.Commands:
			forwarded <- command
			interpreter.Output.Write(okFrame("2"))
		case <-time.After(5 * time.Second):
		}
	}()

	response := call(t, daemon.Addr().String(), `{"skill": "1+1", "timeout": 5}`)
	if response != "2" {
		t.Fatalf("expected %q, got %q", "2", response)
	}
	command := testutil.RequireReceive(t, forwarded, 5*time.Second, "command forwarded to interpreter")
	if command != "1+1" {
		t.Fatalf("interpreter received %q, expected %q", command, "1+1")
	}
}

func TestInterpreterError_MarkerPreserved(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	go func() {
		<-interpreter.Commands
		interpreter.Output.Write(errFrame("*Error* fnord: undefined function"))
	}()

	response := call(t, daemon.Addr().String(), `{"skill": "(fnord)", "timeout": 5}`)
	expected := string(StartErr) + "*Error* fnord: undefined function"
	if response != expected {
		t.Fatalf("expected %q, got %q", expected, response)
	}
}

func TestEmptyPayload(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	go func() {
		<-interpreter.Commands
		interpreter.Output.Write(okFrame(""))
	}()

	response := call(t, daemon.Addr().String(), `{"skill": "(printf \"\")", "timeout": 5}`)
	if response != "" {
		t.Fatalf("expected empty payload, got %q", response)
	}
}

func TestEmptyCommandForwarded(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	forwarded := make(chan string, 1)
	go func() {
		select {
		case command := <-interpreter.Commands:
			forwarded <- command
			interpreter.Output.Write(okFrame("nil"))
		case <-time.After(5 * time.Second):
		}
	}()

	response := call(t, daemon.Addr().String(), `{"skill": "", "timeout": 5}`)
	if response != "nil" {
		t.Fatalf("expected %q, got %q", "nil", response)
	}
	command := testutil.RequireReceive(t, forwarded, 5*time.Second, "empty command forwarded")
	if command != "" {
		t.Fatalf("interpreter received %q, expected empty line", command)
	}
}

func TestStrayBytesBeforeStartIgnored(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	go func() {
		<-interpreter.Commands
		// Prompt echo and banner noise precede the real frame.
		interpreter.Output.Write([]byte("\n> Loading layout context...\n"))
		interpreter.Output.Write(okFrame("42"))
	}()

	response := call(t, daemon.Addr().String(), `{"skill": "(answer)", "timeout": 5}`)
	if response != "42" {
		t.Fatalf("expected %q, got %q", "42", response)
	}
}

func TestMalformedRequest(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	for _, request := range []string{"this is not json", "{\"skill\": ", "", "[1, 2, 3]"} {
		response := call(t, daemon.Addr().String(), request)
		if len(response) == 0 || response[0] != StartErr {
			t.Fatalf("request %q: expected error marker, got %q", request, response)
		}
		if !strings.Contains(response, "JSONDecodeError") {
			t.Fatalf("request %q: expected decode error, got %q", request, response)
		}
	}

	// The interpreter must never have been touched.
	select {
	case command := <-interpreter.Commands:
		t.Fatalf("malformed request reached the interpreter: %q", command)
	default:
	}
}

func TestTimeout_SyntheticResponseAndSignal(t *testing.T) {
	signals := make(chan int, 4)
	daemon, interpreter := startDaemon(t, func(d *Daemon) {
		d.Signal = func(pid int) error {
			signals <- pid
			return nil
		}
	})

	// Consume the forwarded command but never respond.
	go func() { <-interpreter.Commands }()

	started := time.Now()
	response := call(t, daemon.Addr().String(), `{"skill": "(while t t)", "timeout": 1}`)
	elapsed := time.Since(started)

	if response != string(StartErr)+"TimeoutError" {
		t.Fatalf("expected synthetic timeout payload, got %q", response)
	}
	if elapsed < time.Second {
		t.Fatalf("response arrived before the timeout: %s", elapsed)
	}
	if elapsed > 4*time.Second {
		t.Fatalf("timeout response not bounded: %s", elapsed)
	}

	pid := testutil.RequireReceive(t, signals, 5*time.Second, "watchdog signal")
	if pid != 424242 {
		t.Fatalf("signal sent to pid %d, expected 424242", pid)
	}
}

func TestWatchdogFiresAtMostOncePerRequest(t *testing.T) {
	signals := make(chan int, 4)
	daemon, interpreter := startDaemon(t, func(d *Daemon) {
		d.Signal = func(pid int) error {
			signals <- pid
			return nil
		}
	})

	// First request times out.
	go func() { <-interpreter.Commands }()
	call(t, daemon.Addr().String(), `{"skill": "(while t t)", "timeout": 1}`)

	// Second request succeeds promptly; its watchdog must be disarmed
	// without firing.
	go func() {
		<-interpreter.Commands
		interpreter.Output.Write(okFrame("ok"))
	}()
	if response := call(t, daemon.Addr().String(), `{"skill": "(quick)", "timeout": 5}`); response != "ok" {
		t.Fatalf("expected %q, got %q", "ok", response)
	}

	// Give any stray timer a moment, then count firings.
	time.Sleep(100 * time.Millisecond)
	testutil.RequireReceive(t, signals, time.Second, "first request's watchdog")
	select {
	case pid := <-signals:
		t.Fatalf("unexpected second watchdog firing (pid %d)", pid)
	default:
	}
}

func TestStaleOutputDiscarded(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	// First request times out with no response.
	go func() { <-interpreter.Commands }()
	call(t, daemon.Addr().String(), `{"skill": "(slow)", "timeout": 1}`)

	// The abandoned response arrives late, between requests.
	interpreter.Output.Write(okFrame("late"))
	time.Sleep(50 * time.Millisecond)

	// The next request must not see the stale frame.
	go func() {
		<-interpreter.Commands
		interpreter.Output.Write(okFrame("fresh"))
	}()
	response := call(t, daemon.Addr().String(), `{"skill": "(next)", "timeout": 5}`)
	if response != "fresh" {
		t.Fatalf("stale output leaked into response: got %q, expected %q", response, "fresh")
	}
}

func TestFloodServedInArrivalOrder(t *testing.T) {
	daemon, interpreter := startDaemon(t, nil)

	// Hold responses until all three clients have connected, so the
	// later arrivals queue at the OS socket layer behind the first.
	gate := make(chan struct{})
	served := make(chan string, 3)
	go func() {
		<-gate
		for command := range interpreter.Commands {
			served <- command
			interpreter.Output.Write(okFrame("ok:" + command))
		}
	}()

	type result struct {
		command  string
		response string
		err      error
	}
	commands := []string{"cmd-A", "cmd-B", "cmd-C"}
	results := make(chan result, len(commands))
	for _, command := range commands {
		command := command
		go func() {
			response, err := dial(daemon.Addr().String(), `{"skill": "`+command+`", "timeout": 10}`)
			results <- result{command: command, response: response, err: err}
		}()
		time.Sleep(50 * time.Millisecond)
	}
	close(gate)

	// Each client gets its own command's result: the sequential loop
	// never cross-wires an answer to the wrong connection.
	for range commands {
		r := testutil.RequireReceive(t, results, 10*time.Second, "client response")
		if r.err != nil {
			t.Fatalf("client %q: %v", r.command, r.err)
		}
		if r.response != "ok:"+r.command {
			t.Fatalf("client %q received %q", r.command, r.response)
		}
	}

	// And the interpreter saw the commands in strict arrival order.
	for _, expected := range commands {
		command := testutil.RequireReceive(t, served, 10*time.Second, "served command")
		if command != expected {
			t.Fatalf("interpreter saw %q, expected %q", command, expected)
		}
	}
}

func TestStart_Validation(t *testing.T) {
	outputRead, outputWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer outputRead.Close()
	defer outputWrite.Close()

	cases := []struct {
		name   string
		daemon *Daemon
		substr string
	}{
		{"missing listen addr", &Daemon{TargetPID: 1, InterpreterOutput: outputRead, InterpreterInput: io.Discard}, "ListenAddr"},
		{"missing target pid", &Daemon{ListenAddr: "127.0.0.1:0", InterpreterOutput: outputRead, InterpreterInput: io.Discard}, "TargetPID"},
		{"missing interpreter output", &Daemon{ListenAddr: "127.0.0.1:0", TargetPID: 1, InterpreterInput: io.Discard}, "InterpreterOutput"},
		{"missing interpreter input", &Daemon{ListenAddr: "127.0.0.1:0", TargetPID: 1, InterpreterOutput: outputRead}, "InterpreterInput"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.daemon.Start(context.Background())
			if err == nil {
				tc.daemon.Stop()
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.substr) {
				t.Fatalf("error %q does not mention %s", err, tc.substr)
			}
		})
	}
}

func TestAddr_BeforeStart(t *testing.T) {
	daemon := &Daemon{}
	if daemon.Addr() != nil {
		t.Fatal("expected nil Addr before Start")
	}
}

func TestStopIdempotent(t *testing.T) {
	daemon, _ := startDaemon(t, nil)
	daemon.Stop()
	daemon.Stop()
}
