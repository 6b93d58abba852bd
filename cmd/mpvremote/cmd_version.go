/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mpvremote/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("mpvremote", version.Version)
		if !versionCheck {
			return nil
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		info, err := version.Check(ctx, nil)
		if err != nil {
			return err
		}
		if info.UpdateAvailable {
			fmt.Printf("update available: %s (%s)\n", info.LatestVersion, info.ReleaseURL)
		} else {
			fmt.Println("up to date")
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check for a newer release")
	rootCmd.AddCommand(versionCmd)
}
