/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package mpv drives an mpv process over its JSON IPC socket.
package mpv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/engine"
)

// Observed property ids.
const (
	obsPause = iota + 1
	obsTimePos
	obsDuration
)

// Engine starts one mpv process per context.
type Engine struct {
	// Bin is the mpv executable.
	Bin string
	// BaseArgs precede the generated arguments.
	BaseArgs []string
	// Env is appended to the process environment.
	Env []string
	// SocketDir holds the IPC sockets. Empty means os.TempDir.
	SocketDir string
	// StartTimeout bounds the wait for the IPC socket to accept connections.
	StartTimeout time.Duration
	// RequestTimeout bounds the wait for a command reply.
	RequestTimeout time.Duration
	// QuitTimeout is how long Terminate waits for a clean exit before killing.
	QuitTimeout time.Duration

	Logger zerolog.Logger
}

var _ engine.Engine = (*Engine)(nil)

// New returns an Engine with default timeouts.
func New(bin string, logger zerolog.Logger) *Engine {
	if bin == "" {
		bin = "mpv"
	}
	return &Engine{
		Bin:            bin,
		StartTimeout:   5 * time.Second,
		RequestTimeout: 2 * time.Second,
		QuitTimeout:    2 * time.Second,
		Logger:         logger.With().Str("component", "mpv").Logger(),
	}
}

// Create allocates a context. No process exists until Initialize.
func (e *Engine) Create() (engine.Handle, error) {
	if e.Bin == "" {
		return nil, engine.NewError("create", engine.CodeUninitialized)
	}
	id := uuid.NewString()
	dir := e.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Handle{
		engine: e,
		id:     id,
		socket: filepath.Join(dir, "mpvremote-"+id[:8]+".sock"),
		logger: e.Logger.With().Str("context", id[:8]).Logger(),
	}, nil
}

// ApplyPresets sets every preset option on h.
func (e *Engine) ApplyPresets(h engine.Handle, p engine.Presets) error {
	return p.Apply(h)
}

// Handle is one mpv process and its IPC connection.
type Handle struct {
	engine *Engine
	id     string
	socket string
	logger zerolog.Logger

	startOpts   []string
	initialized bool

	cmd    *exec.Cmd
	exited chan struct{}
	ipc    *ipcConn

	terminateOnce sync.Once
	terminated    bool
}

var _ engine.Handle = (*Handle)(nil)

// SetOption records a startup flag before Initialize and sets the property after it.
func (h *Handle) SetOption(name, value string) error {
	if name == "" || strings.ContainsAny(name, " =") {
		return engine.NewError("set_option", engine.CodeInvalidParameter)
	}
	if h.terminated {
		return engine.NewError("set_option", engine.CodeUninitialized)
	}
	if !h.initialized {
		h.startOpts = append(h.startOpts, "--"+name+"="+value)
		return nil
	}
	return h.request("set_option", "set", name, value)
}

// Initialize starts mpv in idle mode and connects to its IPC socket.
func (h *Handle) Initialize() error {
	if h.terminated {
		return engine.NewError("initialize", engine.CodeUninitialized)
	}
	if h.initialized {
		return engine.NewError("initialize", engine.CodeInvalidParameter)
	}
	_ = os.Remove(h.socket)

	args := append([]string(nil), h.engine.BaseArgs...)
	args = append(args,
		"--idle=yes",
		"--no-terminal",
		"--input-ipc-server="+h.socket,
	)
	args = append(args, h.startOpts...)

	cmd := exec.Command(h.engine.Bin, args...)
	cmd.Env = append(os.Environ(), h.engine.Env...)
	if err := cmd.Start(); err != nil {
		h.logger.Error().Err(err).Str("bin", h.engine.Bin).Msg("failed to start mpv")
		return &engine.Error{Code: engine.CodeUninitialized, Op: "initialize", Msg: err.Error()}
	}
	h.cmd = cmd
	h.exited = make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(h.exited)
	}()

	conn, err := h.dial()
	if err != nil {
		h.kill()
		return &engine.Error{Code: engine.CodeUninitialized, Op: "initialize", Msg: err.Error()}
	}
	h.ipc = newIPCConn(conn, h.logger)
	h.initialized = true

	for id, prop := range map[int]string{obsPause: "pause", obsTimePos: "time-pos", obsDuration: "duration"} {
		if err := h.ipc.send(h.engine.RequestTimeout, "observe_property", id, prop); err != nil {
			h.logger.Warn().Err(err).Str("property", prop).Msg("observe property failed")
		}
	}

	h.logger.Debug().Int("pid", cmd.Process.Pid).Str("socket", h.socket).Msg("mpv started")
	return nil
}

func (h *Handle) dial() (net.Conn, error) {
	deadline := time.Now().Add(h.engine.StartTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", h.socket)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-h.exited:
			return nil, errors.New("mpv exited during startup")
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("connect ipc socket: %w", lastErr)
}

// LoadAndPlay replaces the (empty) playlist with url.
func (h *Handle) LoadAndPlay(url string) error {
	return h.request("loadfile", "loadfile", url, "replace")
}

// Command forwards args as an mpv input command.
func (h *Handle) Command(args ...string) error {
	if len(args) == 0 {
		return engine.NewError("command", engine.CodeInvalidParameter)
	}
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	return h.request("command", vals...)
}

func (h *Handle) request(op string, args ...any) error {
	if !h.initialized || h.terminated {
		return engine.NewError(op, engine.CodeUninitialized)
	}
	if err := h.ipc.send(h.engine.RequestTimeout, args...); err != nil {
		var engErr *engine.Error
		if errors.As(err, &engErr) {
			engErr.Op = op
			return engErr
		}
		return &engine.Error{Code: engine.CodeGeneric, Op: op, Msg: err.Error()}
	}
	return nil
}

// WaitEvent returns the next event or EventNone after timeout.
func (h *Handle) WaitEvent(ctx context.Context, timeout time.Duration) engine.Event {
	if !h.initialized || h.terminated {
		return engine.Event{Kind: engine.EventShutdown}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-h.ipc.events:
		if !ok {
			return engine.Event{Kind: engine.EventShutdown}
		}
		return ev
	case <-timer.C:
		return engine.Event{Kind: engine.EventNone}
	case <-ctx.Done():
		return engine.Event{Kind: engine.EventNone}
	}
}

// Terminate asks mpv to quit, kills it if it does not, and releases the socket.
func (h *Handle) Terminate() {
	h.terminateOnce.Do(func() {
		h.terminated = true
		if h.cmd == nil {
			return
		}
		if h.ipc != nil {
			h.ipc.sendNoReply("quit")
		}
		select {
		case <-h.exited:
		case <-time.After(h.engine.QuitTimeout):
			h.logger.Warn().Msg("mpv did not quit, killing")
			h.kill()
		}
		if h.ipc != nil {
			h.ipc.close()
		}
		_ = os.Remove(h.socket)
		h.logger.Debug().Msg("mpv terminated")
	})
}

func (h *Handle) kill() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	_ = h.cmd.Process.Kill()
	<-h.exited
}
