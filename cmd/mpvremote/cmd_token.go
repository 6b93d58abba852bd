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

	"github.com/friendsincode/mpvremote/internal/auth"
)

var (
	tokenOperator string
	tokenScopes   []string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for the HTTP API",
	Long: `Issue a bearer token signed with MPVREMOTE_JWT_SIGNING_KEY.

Examples:
  # Control token for a studio panel, valid for a day
  mpvremote token --operator studio --scope control --ttl 24h

  # Read-only token for a dashboard
  mpvremote token --operator dashboard --scope read`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if cfg.JWTSigningKey == "" {
			return errors.New("MPVREMOTE_JWT_SIGNING_KEY is not set")
		}
		for _, s := range tokenScopes {
			if s != auth.ScopeControl && s != auth.ScopeRead {
				return fmt.Errorf("unknown scope %q", s)
			}
		}
		token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
			Operator: tokenOperator,
			Scopes:   tokenScopes,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "operator", "Operator name recorded in the token")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeControl}, "Scopes to grant (control, read)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
