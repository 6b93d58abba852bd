/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/mpvremote/internal/client"
)

var openPaused bool

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Ask the running player to exit",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		return c.Kill(ctx)
	}),
}

var commandCmd = &cobra.Command{
	Use:   "command <args...>",
	Short: "Forward a raw mpv command and print the reply",
	Long: `Forward a raw mpv command to the playing media and print the player's reply.

Examples:
  mpvremote command seek 30
  mpvremote command set volume 50`,
	DisableFlagParsing: true,
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		reply, err := c.SendCommand(ctx, args...)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}),
}

var openCmd = &cobra.Command{
	Use:   "open <url>",
	Short: "Play a local file, an http(s) URL or an s3:// object",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(ctx context.Context, c *client.Client, args []string) error {
		return c.Open(ctx, args[0], openPaused)
	}),
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current media",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		return c.Stop(ctx)
	}),
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the current media",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		return c.Pause(ctx)
	}),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the current media",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		return c.Resume(ctx)
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the published player status as JSON",
	Args:  cobra.NoArgs,
	RunE: withClient(func(ctx context.Context, c *client.Client, _ []string) error {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}),
}

func init() {
	openCmd.Flags().BoolVarP(&openPaused, "paused", "p", false, "Load the media paused")
	rootCmd.AddCommand(killCmd, commandCmd, openCmd, stopCmd, pauseCmd, resumeCmd, statusCmd)
}

// withClient loads configuration, opens the shared backend and runs fn against a client.
func withClient(fn func(ctx context.Context, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		be, err := openBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := be.Close(); err != nil {
				logger.Debug().Err(err).Msg("close backend")
			}
		}()

		c := client.New(be.channel, be.publisher(nil, logger), client.Options{
			KillWait:    cfg.KillWait,
			CommandWait: cfg.CommandWait,
			Out:         os.Stdout,
			Logger:      logger,
		})
		return fn(ctx, c, args)
	}
}
