/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package client sends requests to a running player through the command channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/daemon"
	"github.com/friendsincode/mpvremote/internal/status"
)

// KillAdvisory is printed when the player does not confirm a kill request.
const KillAdvisory = "Please open the task manager and kill the process"

var (
	// ErrNotRunning is returned by Kill when no player is running.
	ErrNotRunning = errors.New("No active process to kill")
	// ErrNoPlayer is returned by requests that need a running player.
	ErrNoPlayer = errors.New("MPV remote player is not running")
	// ErrNoCommand is returned by SendCommand without arguments.
	ErrNoCommand = errors.New("No input command line")
)

// Options configures a Client.
type Options struct {
	KillWait    time.Duration
	CommandWait time.Duration
	Out         io.Writer // advisories; nil discards
	Logger      zerolog.Logger
}

// Client talks to the player through a channel and reads its published status.
type Client struct {
	ch     command.Channel
	pub    *status.Publisher
	opts   Options
	logger zerolog.Logger
}

// New creates a client.
func New(ch command.Channel, pub *status.Publisher, opts Options) *Client {
	if opts.KillWait <= 0 {
		opts.KillWait = 1500 * time.Millisecond
	}
	if opts.CommandWait <= 0 {
		opts.CommandWait = time.Second
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Client{
		ch:     ch,
		pub:    pub,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "client").Logger(),
	}
}

// Status returns the last published status.
func (c *Client) Status(ctx context.Context) (status.Status, error) {
	return c.pub.Pull(ctx)
}

// Kill asks the player to exit and waits for its stopped line. When that line does not
// arrive in time the published status is reset to the default so a new player can
// start, and the operator is told to kill the process by hand.
func (c *Client) Kill(ctx context.Context) error {
	st, err := c.pub.Pull(ctx)
	if err != nil {
		return err
	}
	if !st.Running {
		return ErrNotRunning
	}

	if err := c.ch.SeekToEnd(ctx); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	if err := c.ch.Write(ctx, command.Kill()); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	err = command.WaitForLine(ctx, c.ch, daemon.MsgStopped, c.opts.KillWait)
	if err == nil {
		c.logger.Debug().Msg("kill confirmed")
		return nil
	}
	if !errors.Is(err, command.ErrReplyTimeout) {
		return fmt.Errorf("kill: %w", err)
	}

	fmt.Fprintln(c.opts.Out, KillAdvisory)
	c.pub.SetDefault()
	if pushErr := c.pub.Push(ctx); pushErr != nil {
		c.logger.Warn().Err(pushErr).Msg("failed to reset status")
	}
	return fmt.Errorf("kill: %w", err)
}

// SendCommand forwards a raw engine command and returns the player's reply line.
func (c *Client) SendCommand(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", ErrNoCommand
	}
	if err := c.ch.SeekToEnd(ctx); err != nil {
		return "", fmt.Errorf("command: %w", err)
	}
	if err := c.ch.Write(ctx, command.Raw(args...)); err != nil {
		return "", fmt.Errorf("command: %w", err)
	}
	line, err := c.ch.WaitForReplyWithin(ctx, c.opts.CommandWait)
	if err != nil {
		return "", fmt.Errorf("command: %w", err)
	}
	return line, nil
}

// Open asks the player to play url, replacing any current media.
func (c *Client) Open(ctx context.Context, url string, paused bool) error {
	return c.send(ctx, command.Open(url, paused))
}

// Stop ends the current media.
func (c *Client) Stop(ctx context.Context) error { return c.send(ctx, command.Stop()) }

// Pause pauses the current media.
func (c *Client) Pause(ctx context.Context) error { return c.send(ctx, command.Pause()) }

// Resume resumes the current media.
func (c *Client) Resume(ctx context.Context) error { return c.send(ctx, command.Resume()) }

func (c *Client) send(ctx context.Context, cmd command.Command) error {
	st, err := c.pub.Pull(ctx)
	if err != nil {
		return err
	}
	if !st.Running {
		return ErrNoPlayer
	}
	if err := c.ch.Write(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd.Kind, err)
	}
	return nil
}
