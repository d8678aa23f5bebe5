// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skillbridge-foundation/skillbridge/bridge"
	"github.com/skillbridge-foundation/skillbridge/lib/config"
	"github.com/skillbridge-foundation/skillbridge/lib/process"
	"github.com/skillbridge-foundation/skillbridge/lib/proctree"
	"github.com/skillbridge-foundation/skillbridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		listenAddr   string
		configPath   string
		targetPID    int
		pollInterval time.Duration
		verbose      bool
		logJSON      bool
		showVersion  bool
	)

	flag.StringVar(&listenAddr, "listen", "127.0.0.1:8672", "TCP address to serve bridge requests on")
	flag.StringVar(&configPath, "config", "", "path to skillbridge.yaml (default: $SKILLBRIDGE_CONFIG, else built-in defaults)")
	flag.IntVar(&targetPID, "target-pid", 0, "interpreter pid to signal on timeout (default: resolved as this process's grandparent)")
	flag.DurationVar(&pollInterval, "poll-interval", 0, "sleep between empty polls of interpreter output (default: from config)")
	flag.BoolVar(&verbose, "verbose", false, "enable per-request debug logging")
	flag.BoolVar(&logJSON, "log-json", false, "emit logs as JSON instead of text")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("skillbridge-daemon %s\n", version.Info())
		return nil
	}

	// All logging goes to stderr: stdout is the interpreter's command
	// input stream.
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOptions)
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOptions)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if pollInterval <= 0 {
		pollInterval = cfg.Daemon.PollIntervalDuration()
	}

	// The daemon is spawned by the interpreter through a shell, so the
	// pid to signal sits two parent links up. Without it there is no
	// cancellation guarantee, so failure here is fatal rather than
	// running degraded.
	if targetPID == 0 {
		targetPID, err = proctree.Grandparent()
		if err != nil {
			return fmt.Errorf("resolving interpreter pid: %w (use --target-pid to override)", err)
		}
	}

	daemon := &bridge.Daemon{
		ListenAddr:        listenAddr,
		TargetPID:         targetPID,
		InterpreterOutput: os.Stdin,
		InterpreterInput:  os.Stdout,
		PollInterval:      pollInterval,
		RequestLimit:      cfg.Daemon.RequestLimit,
		Logger:            logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := daemon.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")
	daemon.Stop()
	return nil
}
