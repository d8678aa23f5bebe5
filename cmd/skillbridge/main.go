// Copyright 2026 The Skillbridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/skillbridge-foundation/skillbridge/client"
	"github.com/skillbridge-foundation/skillbridge/lib/config"
	"github.com/skillbridge-foundation/skillbridge/lib/process"
	"github.com/skillbridge-foundation/skillbridge/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("missing command")
	}

	switch args[0] {
	case "exec":
		return runExec(args[1:])
	case "version":
		fmt.Printf("skillbridge %s\n", version.Info())
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command: %s (see 'skillbridge help')", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `skillbridge - submit SKILL commands to the bridge daemon

USAGE
    skillbridge exec [flags] <expression>
    skillbridge exec [flags] < script.il
    skillbridge version

EXEC FLAGS
    --host <addr>        daemon host (default: $SKILLBRIDGE_HOST or config)
    --port <port>        daemon port (default: $SKILLBRIDGE_PORT or config)
    --timeout <dur>      evaluation timeout (default: from config)
    --config <path>      config file (default: $SKILLBRIDGE_CONFIG)

The expression's result is printed to stdout. Interpreter errors and
bridge failures are printed to stderr and exit with status 1.
`)
}

func runExec(args []string) error {
	flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
	host := flagSet.String("host", "", "bridge daemon host")
	port := flagSet.Int("port", 0, "bridge daemon port")
	timeout := flagSet.Duration("timeout", 0, "evaluation timeout")
	configPath := flagSet.String("config", "", "path to skillbridge.yaml")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	command := strings.Join(flagSet.Args(), " ")
	if command == "" {
		// No argv expression: read the command text from stdin, which
		// allows piping whole SKILL scripts through the bridge.
		data, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			return fmt.Errorf("read command from stdin: %w", readErr)
		}
		command = string(data)
	}
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("empty command")
	}

	// Precedence: flag, then environment, then config file.
	bridgeClient := &client.Client{
		Host:    firstNonEmpty(*host, os.Getenv(client.EnvHost), cfg.Client.Host),
		Port:    firstNonZero(*port, envPort(), cfg.Client.Port),
		Timeout: firstPositive(*timeout, cfg.Client.TimeoutDuration()),
	}

	result, err := bridgeClient.Do(context.Background(), command)
	if err != nil {
		return err
	}
	if client.IsError(result) {
		return fmt.Errorf("skill error: %s", client.ErrorText(result))
	}
	fmt.Println(result)
	return nil
}

func envPort() int {
	value := os.Getenv(client.EnvPort)
	if value == "" {
		return 0
	}
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return 0
	}
	return port
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
