/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/talkclock/internal/config"
	"github.com/friendsincode/talkclock/internal/decodersim"
	"github.com/friendsincode/talkclock/internal/host"
	"github.com/friendsincode/talkclock/internal/link"
	"github.com/friendsincode/talkclock/internal/logbuffer"
	"github.com/friendsincode/talkclock/internal/logging"
	"github.com/friendsincode/talkclock/internal/server"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer

	serveSim      bool
	serveSimFiles []string
)

var rootCmd = &cobra.Command{
	Use:   "talkclock",
	Short: "Talking alarm clock audio player",
	Long:  "talkclock drives the clock's serial MP3 decoder: a prioritized command queue, power management and a small control API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the player controller and its control API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveSim, "sim", false, "Drive an in-memory decoder instead of the configured link")
	serveCmd.Flags().StringSliceVar(&serveSimFiles, "sim-file", nil, "Media path known to the simulated decoder (repeatable)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(2000)
	logger = logging.SetupWithWriter(cfg.Environment, logbuffer.NewWriter(logBuf))
	return nil
}

func openDeps(ctx context.Context) (server.Deps, func() error, error) {
	if serveSim {
		pc, err := cfg.Player()
		if err != nil {
			return server.Deps{}, nil, err
		}
		dev := decodersim.New(decodersim.Config{Convention: pc.LengthConvention}, nil, logger)
		for _, f := range serveSimFiles {
			dev.AddFile(f, 0)
		}
		logger.Warn().Msg("using simulated decoder")
		return server.Deps{Link: dev, Host: host.NewSimHost(dev)}, func() error { return nil }, nil
	}

	l, err := link.Open(ctx, cfg.Link())
	if err != nil {
		return server.Deps{}, nil, fmt.Errorf("open decoder link: %w", err)
	}
	logger.Info().Str("link", cfg.LinkKind).Msg("decoder link open")
	return server.Deps{
		Link: l,
		Host: host.NewExecHost(cfg.Profile.Hooks, cfg.HookTimeout, logger),
	}, l.Close, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("profile", cfg.Profile.Name).Msg("talkclock starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeLink, err := openDeps(ctx)
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, cfg, deps, logBuf, logger)
	if err != nil {
		_ = closeLink()
		return fmt.Errorf("initialize server: %w", err)
	}
	srv.DeferClose(closeLink)

	if err := srv.Start(ctx); err != nil {
		_ = srv.Close()
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("talkclock stopped")
	return nil
}
