/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/talkclock/internal/db"
	"github.com/friendsincode/talkclock/internal/settings"
)

var resetForce bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget stored player settings",
	Long: `Forget the stored volume and idle grace period.

The next start uses the values from the environment and the board profile.

Examples:
  # Interactive reset (will prompt for confirmation)
  talkclock reset

  # Force reset without confirmation
  talkclock reset --force
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Printf("Reset stored settings in %s (%s)? [y/N]: ", cfg.DBDSN, cfg.DBBackend)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	database, err := db.Connect(cfg.Database())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := settings.NewStore(database, nil, logger).Reset(cmd.Context()); err != nil {
		return err
	}

	logger.Info().Msg("stored settings cleared")
	return nil
}
