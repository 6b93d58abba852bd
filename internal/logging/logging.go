/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logging configures the process logger.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options selects the log level and console format.
type Options struct {
	Environment string
	// Level overrides the environment default when it parses as a zerolog level.
	Level string
	// JSON writes raw JSON lines instead of the console format.
	JSON bool
	// Out receives console output; nil means stderr so CLI subcommands keep stdout.
	Out io.Writer
	// Extra receives every JSON line as well, e.g. the in-memory log buffer.
	Extra io.Writer
}

// New builds the logger described by opts and installs it as the global logger.
func New(opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	var console io.Writer = zerolog.ConsoleWriter{Out: out}
	if opts.JSON {
		console = out
	}

	writer := console
	if opts.Extra != nil {
		writer = zerolog.MultiLevelWriter(console, opts.Extra)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(Level(opts.Environment, opts.Level))
	log.Logger = logger
	return logger
}

// Level resolves the effective level: an explicit valid level wins, then debug in
// development and info elsewhere.
func Level(environment, level string) zerolog.Level {
	if level != "" {
		if lvl, err := zerolog.ParseLevel(level); err == nil && lvl != zerolog.NoLevel {
			return lvl
		}
	}
	if environment == "development" {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}
