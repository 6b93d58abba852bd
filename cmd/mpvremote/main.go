/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/mpvremote/internal/config"
	"github.com/friendsincode/mpvremote/internal/logbuffer"
	"github.com/friendsincode/mpvremote/internal/logging"
)

var (
	logger    zerolog.Logger
	cfg       *config.Config
	logBuffer *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "mpvremote",
	Short: "mpvremote - remotely controlled mpv player",
	Long: `mpvremote runs a single long-lived mpv player that other processes control
through a command channel, a reply journal and a published status record.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
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

	logBuffer = logbuffer.New(cfg.LogBufferSize)
	logger = logging.New(logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		JSON:        cfg.LogJSON,
		Extra:       logbuffer.NewWriter(logBuffer, nil),
	})
	return nil
}
