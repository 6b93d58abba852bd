/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package daemon owns the player process lifecycle: the single-instance check, startup,
// the run loop and an idempotent shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/status"
)

// Reply journal lines written by the daemon.
const (
	MsgRunning    = "Running MPV remote player"
	MsgStopped    = "Stopped MPV remote player"
	MsgForceStart = "Force start attempting to kill blocking processes"
)

// ErrAlreadyRunning is returned by Start when another daemon owns the channel.
var ErrAlreadyRunning = errors.New("Another MPV remote player process is already running")

// Controller is the playback loop run by the daemon.
type Controller interface {
	Run(ctx context.Context) error
	Close()
}

// Transport is an optional network surface. Serve blocks until ctx is done and then
// stops gracefully.
type Transport interface {
	Serve(ctx context.Context) error
}

// ShutdownHook releases a resource during shutdown.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Options configures a Daemon.
type Options struct {
	Channel    command.Channel
	Publisher  *status.Publisher
	Controller Controller
	Transport  Transport // nil disables the network surface

	KillWait        time.Duration
	ShutdownTimeout time.Duration
	// Signals cancel the run loop. Nil installs no handler.
	Signals []os.Signal

	Logger zerolog.Logger
}

// Daemon runs one controller against one channel.
type Daemon struct {
	ch         command.Channel
	pub        *status.Publisher
	controller Controller
	transport  Transport
	opts       Options
	logger     zerolog.Logger

	mu            sync.Mutex
	hooks         []namedHook
	stopTransport func()

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a daemon.
func New(opts Options) *Daemon {
	if opts.KillWait <= 0 {
		opts.KillWait = 1500 * time.Millisecond
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Daemon{
		ch:         opts.Channel,
		pub:        opts.Publisher,
		controller: opts.Controller,
		transport:  opts.Transport,
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "daemon").Logger(),
	}
}

// RegisterShutdownHook adds a cleanup step. Hooks run in reverse registration order.
func (d *Daemon) RegisterShutdownHook(name string, hook ShutdownHook) {
	d.mu.Lock()
	d.hooks = append(d.hooks, namedHook{name: name, hook: hook})
	d.mu.Unlock()
}

// Start performs the single-instance check and publishes the running status. With force
// a running daemon is asked to exit first; the outcome of that request is only logged.
func (d *Daemon) Start(ctx context.Context, force bool) error {
	st, err := d.pub.Pull(ctx)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if st.Running {
		if !force {
			return ErrAlreadyRunning
		}
		d.logger.Warn().Msg(MsgForceStart)
		if err := d.killPrevious(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("previous player did not confirm the kill")
		}
	}

	if err := d.ch.ClearReplies(ctx); err != nil {
		return fmt.Errorf("clear reply journal: %w", err)
	}
	d.pub.SetDefault()
	d.pub.SetRunning(true)
	if err := d.pub.Push(ctx); err != nil {
		return fmt.Errorf("publish running status: %w", err)
	}
	if err := d.ch.Reply(ctx, MsgRunning); err != nil {
		d.logger.Warn().Err(err).Msg("reply journal write failed")
	}
	d.logger.Info().Msg(MsgRunning)
	return nil
}

// killPrevious asks the running daemon to exit and waits for its stopped line. Lines
// written while its session tears down are skipped.
func (d *Daemon) killPrevious(ctx context.Context) error {
	if err := d.ch.SeekToEnd(ctx); err != nil {
		return err
	}
	if err := d.ch.Write(ctx, command.Kill()); err != nil {
		return err
	}
	if err := command.WaitForLine(ctx, d.ch, MsgStopped, d.opts.KillWait); err != nil {
		return err
	}
	d.logger.Info().Msg("previous player stopped")
	return nil
}

// Run drains any stale command, then runs the transport and the controller until the
// controller returns, ctx is cancelled or a signal arrives. Shutdown always runs before
// Run returns. The transport keeps serving until the stopped status is published.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if stale, err := d.ch.ReadLatest(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("discarding unreadable command")
	} else if !stale.IsNone() {
		d.logger.Info().Str("command", stale.String()).Msg("discarding stale command")
	}

	stopSignals := d.handleSignals(cancel)
	defer stopSignals()

	g, gctx := errgroup.WithContext(ctx)
	if d.transport != nil {
		serveCtx, stopServe := context.WithCancel(context.WithoutCancel(ctx))
		defer stopServe()
		served := make(chan struct{})
		g.Go(func() error {
			defer close(served)
			if err := d.transport.Serve(serveCtx); err != nil {
				return fmt.Errorf("transport: %w", err)
			}
			return nil
		})
		d.mu.Lock()
		d.stopTransport = func() {
			stopServe()
			<-served
		}
		d.mu.Unlock()
	}

	ctrlErr := d.controller.Run(gctx)
	cancel()

	shutdownErr := d.Shutdown(context.WithoutCancel(ctx))
	if shutdownErr != nil {
		d.logger.Error().Err(shutdownErr).Msg("shutdown completed with errors")
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctrlErr
	}
	if runErr == nil {
		runErr = shutdownErr
	}
	return runErr
}

func (d *Daemon) handleSignals(cancel context.CancelFunc) func() {
	if len(d.opts.Signals) == 0 {
		return func() {}
	}
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, d.opts.Signals...)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			d.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// Shutdown terminates any active engine context, publishes the stopped status, writes the
// final journal line, stops the transport and runs the shutdown hooks. Only the first
// call has any effect; later calls return the first result.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.shutdownOnce.Do(func() {
		d.shutdownErr = d.shutdown(ctx)
	})
	return d.shutdownErr
}

func (d *Daemon) shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.ShutdownTimeout)
	defer cancel()

	d.controller.Close()

	var errs []error
	d.pub.SetDefault()
	if err := d.pub.Push(ctx); err != nil {
		errs = append(errs, fmt.Errorf("publish stopped status: %w", err))
	}
	if err := d.ch.Reply(ctx, MsgStopped); err != nil {
		errs = append(errs, fmt.Errorf("write reply journal: %w", err))
	}

	d.mu.Lock()
	stopTransport := d.stopTransport
	hooks := append([]namedHook(nil), d.hooks...)
	d.mu.Unlock()
	if stopTransport != nil {
		stopTransport()
	}
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		if err := h.hook(ctx); err != nil {
			d.logger.Error().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
		}
	}

	d.logger.Info().Msg(MsgStopped)
	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
