/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mpv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/engine"
)

var errConnClosed = errors.New("ipc connection closed")

// message is any line mpv writes on the socket: a reply carries request_id, an event
// carries event.
type message struct {
	Event     string `json:"event"`
	Name      string `json:"name"`
	Data      any    `json:"data"`
	Reason    string `json:"reason"`
	FileError string `json:"file_error"`
	RequestID *int64 `json:"request_id"`
	Error     string `json:"error"`
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id,omitempty"`
}

type ipcConn struct {
	conn   net.Conn
	logger zerolog.Logger
	events chan engine.Event

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[int64]chan message

	closing   atomic.Bool
	done      chan struct{}
	dead      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newIPCConn(conn net.Conn, logger zerolog.Logger) *ipcConn {
	c := &ipcConn{
		conn:    conn,
		logger:  logger,
		events:  make(chan engine.Event, 128),
		pending: make(map[int64]chan message),
		done:    make(chan struct{}),
		dead:    make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c
}

// send writes a command and waits for its reply.
func (c *ipcConn) send(timeout time.Duration, args ...any) error {
	id := c.nextID.Add(1)
	replyCh := make(chan message, 1)
	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(request{Command: args, RequestID: id}); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyCh:
		if reply.Error != "" && reply.Error != "success" {
			return &engine.Error{Code: engine.CodeFromMessage(reply.Error), Msg: reply.Error}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("no reply to %v within %s", args[0], timeout)
	case <-c.dead:
		return errConnClosed
	}
}

// sendNoReply writes a command without waiting.
func (c *ipcConn) sendNoReply(args ...any) {
	if err := c.write(request{Command: args}); err != nil {
		c.logger.Debug().Err(err).Msg("ipc write failed")
	}
}

func (c *ipcConn) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode ipc request: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write ipc request: %w", err)
	}
	return nil
}

func (c *ipcConn) readLoop() {
	defer c.wg.Done()
	defer close(c.events)
	defer close(c.dead)

	dec := json.NewDecoder(c.conn)
	for {
		var msg message
		if err := dec.Decode(&msg); err != nil {
			if !c.closing.Load() {
				c.logger.Debug().Err(err).Msg("ipc connection lost")
				c.emit(engine.Event{Kind: engine.EventShutdown, Err: err})
			}
			return
		}
		if msg.Event != "" {
			c.emit(translate(msg))
			continue
		}
		if msg.RequestID == nil {
			continue
		}
		c.mu.Lock()
		replyCh, ok := c.pending[*msg.RequestID]
		c.mu.Unlock()
		if ok {
			replyCh <- msg
		}
	}
}

func (c *ipcConn) emit(ev engine.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *ipcConn) close() {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		close(c.done)
		_ = c.conn.Close()
		c.wg.Wait()
	})
}

func translate(msg message) engine.Event {
	switch msg.Event {
	case "end-file":
		ev := engine.Event{Kind: engine.EventFileEnded, Name: msg.Event, Reason: msg.Reason}
		if msg.FileError != "" {
			ev.Err = &engine.Error{Code: engine.CodeFromMessage(msg.FileError), Op: "loadfile", Msg: msg.FileError}
		}
		return ev
	case "shutdown":
		return engine.Event{Kind: engine.EventShutdown, Name: msg.Event}
	case "file-loaded":
		return engine.Event{Kind: engine.EventOther, Sub: engine.OtherFileLoaded, Name: msg.Event}
	case "playback-restart":
		return engine.Event{Kind: engine.EventOther, Sub: engine.OtherPlaybackRestart, Name: msg.Event}
	case "idle":
		return engine.Event{Kind: engine.EventOther, Sub: engine.OtherIdle, Name: msg.Event}
	case "property-change":
		return engine.Property(msg.Name, msg.Data)
	default:
		return engine.Event{Kind: engine.EventOther, Sub: engine.OtherUnknown, Name: msg.Event}
	}
}
