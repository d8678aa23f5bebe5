// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the daemon side of the skillbridge
// protocol: a TCP front end for a single-threaded interactive SKILL
// interpreter reachable only through the daemon's own standard streams.
//
// The daemon is spawned by the host interpreter through a shell, with
// its stdin connected to the interpreter's framed output and its stdout
// connected to the interpreter's command input. Each TCP connection
// carries exactly one JSON request ({"skill": ..., "timeout": ...});
// the daemon forwards the command text, scans the interpreter's output
// for one framed response, and relays it back before accepting the
// next connection.
//
// Servicing is strictly sequential. The interpreter evaluates one
// command stream at a time, so the daemon's one-request-at-a-time
// accept loop is the mechanism that keeps concurrent callers from
// interleaving and corrupting that stream. The only concurrent actor
// per request is a one-shot watchdog timer that delivers SIGINT to the
// interpreter process when an evaluation overruns its timeout; the
// race between response arrival and watchdog expiry is settled by a
// single compare-and-swap on the request's settled flag, first write
// wins.
package bridge
