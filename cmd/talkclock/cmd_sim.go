/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/talkclock/internal/decodersim"
	"github.com/friendsincode/talkclock/internal/link"
)

var (
	simListen string
	simFiles  []string
	simLength time.Duration
	simNoise  int
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Serve a simulated decoder over TCP",
	Long: `Serve a simulated decoder chip over TCP, for running "serve" with
TALKCLOCK_LINK=tcp on a machine without the board.

The simulated chip is powered while a controller is connected; power hooks
have no effect on it.
`,
	RunE: runSim,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := link.ListPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

func init() {
	simCmd.Flags().StringVar(&simListen, "listen", "127.0.0.1:4001", "TCP address to listen on")
	simCmd.Flags().StringSliceVar(&simFiles, "file", nil, "Media path known to the chip (repeatable)")
	simCmd.Flags().DurationVar(&simLength, "length", 3*time.Second, "Play length of every known file")
	simCmd.Flags().IntVar(&simNoise, "noise", 0, "Zero bytes emitted on power up")
	rootCmd.AddCommand(simCmd, probeCmd)
}

func runSim(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	pc, err := cfg.Player()
	if err != nil {
		return err
	}

	files := make(map[string]time.Duration, len(simFiles))
	for _, f := range simFiles {
		files[f] = simLength
	}
	dev := decodersim.New(decodersim.Config{
		Convention:   pc.LengthConvention,
		Files:        files,
		PowerUpNoise: simNoise,
	}, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", simListen, err)
	}
	logger.Info().Str("convention", pc.LengthConvention.String()).Strs("files", simFiles).Msg("starting simulated decoder")
	return dev.Serve(ctx, ln)
}
