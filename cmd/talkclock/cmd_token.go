/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/talkclock/internal/auth"
)

var (
	tokenClient string
	tokenRole   string
	tokenTTL    time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the control API",
	Long: `Issue a signed bearer token using TALKCLOCK_JWT_SIGNING_KEY.

Examples:
  # Token for the bedside display, read only
  talkclock token --client display --role read

  # Token for the alarm scheduler
  talkclock token --client scheduler --role control --ttl 8760h
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenClient, "client", "cli", "Client identifier")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleControl, "Role to grant (read or control)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("TALKCLOCK_JWT_SIGNING_KEY is not set; the API accepts unauthenticated requests")
	}
	if tokenRole != auth.RoleRead && tokenRole != auth.RoleControl {
		return fmt.Errorf("unknown role %q", tokenRole)
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
		ClientID: tokenClient,
		Roles:    []string{tokenRole},
	}, tokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
