// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the inkwell command line: running pipelines in the
// terminal, serving the local API and listing stored state.
package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/noldarim/inkwell/internal/logger"
	"github.com/rs/zerolog"
)

const (
	appName    = "inkwell"
	appVersion = "0.1.0-alpha"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetCLILogger()
		log = &l
	})
	return log
}

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		return runCommand(args)
	case "serve":
		return serveCommand(args)
	case "templates":
		return templatesCommand(args)
	case "pipelines":
		return pipelinesCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - AI writing pipelines

Usage:
  %s <command> [arguments]

Commands:
  run            Build a pipeline from a template or YAML file and run it
  serve          Start the local REST + WebSocket API
  templates      List available pipeline templates
  pipelines      List stored pipelines
  version        Print version information
  help           Show this help message

Examples:
  %s run                                   # pick a template interactively
  %s run -t research-paper --var topic="urban bees"
  %s run -p paper.yaml --var field=ecology --offline
  %s serve --config config.yaml
  %s pipelines

`, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
