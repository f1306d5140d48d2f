// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noldarim/inkwell/internal/app"
	"github.com/noldarim/inkwell/internal/config"
	"github.com/noldarim/inkwell/internal/logger"
	"github.com/noldarim/inkwell/internal/server"
)

type serveOptions struct {
	configPath string
	host       string
	port       int
	offline    bool
}

func serveCommand(args []string) error {
	opts := &serveOptions{}
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.host, "host", "", "Listen host (overrides config)")
	fs.IntVar(&opts.port, "port", 0, "Listen port (overrides config)")
	fs.BoolVar(&opts.offline, "offline", false, "Do not connect to the backend socket")

	if err := fs.Parse(args); err != nil {
		return err
	}
	return serve(opts)
}

func serve(opts *serveOptions) error {
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting inkwell API server")

	// This context drives the connection manager and event broadcaster.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var appOpts []app.Option
	if opts.offline {
		appOpts = append(appOpts, app.Offline())
	}
	a, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error creating application")
		return err
	}
	a.Start(ctx)

	srv := server.New(&cfg.Server, a)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()
	fmt.Printf("▸ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case runErr = <-serverErrChan:
		if runErr != nil {
			mainLog.Error().Err(runErr).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout, independent of the app ctx.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	cancel()
	if err := a.Close(); err != nil {
		mainLog.Error().Err(err).Msg("Error closing application")
	}

	mainLog.Info().Msg("API server shut down")
	return runErr
}
