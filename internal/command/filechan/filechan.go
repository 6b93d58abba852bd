/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package filechan implements the command channel on top of two files in the state
// directory: a single command file that is atomically replaced on every write, and an
// append-only reply journal.
package filechan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/command"
)

const (
	commandFile = "command"
	replyFile   = "replies.log"

	// fallbackPoll bounds reply waits when file notifications are unavailable.
	fallbackPoll = 50 * time.Millisecond
)

// Channel is a file-backed command.Channel.
type Channel struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	mark    int64
	replied chan struct{}

	ready       chan struct{}
	watchOnce   sync.Once
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

var _ command.Channel = (*Channel)(nil)

// New creates the state directory if needed and returns a channel rooted there.
func New(dir string, logger zerolog.Logger) (*Channel, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Channel{
		dir:     dir,
		logger:  logger.With().Str("component", "filechan").Logger(),
		replied: make(chan struct{}),
		ready:   make(chan struct{}, 1),
	}, nil
}

func (c *Channel) commandPath() string { return filepath.Join(c.dir, commandFile) }
func (c *Channel) replyPath() string { return filepath.Join(c.dir, replyFile) }

// Write atomically replaces the command file, discarding any unread command.
func (c *Channel) Write(ctx context.Context, cmd command.Command) error {
	pendingFile, err := renameio.NewPendingFile(c.commandPath())
	if err != nil {
		return fmt.Errorf("create pending command file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			c.logger.Debug().Err(err).Msg("cleanup pending command file")
		}
	}()

	if _, err := io.WriteString(pendingFile, cmd.String()+"\n"); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace command file: %w", err)
	}
	return nil
}

// ReadLatest claims the command file by renaming it, so a concurrent writer either lands
// before the claim (and is read now) or after it (and is read on the next poll).
func (c *Channel) ReadLatest(ctx context.Context) (command.Command, error) {
	claimed := c.commandPath() + ".claimed." + strconv.Itoa(os.Getpid())
	if err := os.Rename(c.commandPath(), claimed); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return command.None, nil
		}
		return command.None, fmt.Errorf("claim command file: %w", err)
	}
	defer os.Remove(claimed)

	data, err := os.ReadFile(claimed)
	if err != nil {
		return command.None, fmt.Errorf("read command file: %w", err)
	}
	return command.Parse(string(bytes.TrimSpace(data)))
}

// Reply appends one line to the journal.
func (c *Channel) Reply(ctx context.Context, line string) error {
	f, err := os.OpenFile(c.replyPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open reply journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(sanitizeLine(line) + "\n"); err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	c.wakeWaiters()
	return nil
}

// ClearReplies truncates the journal.
func (c *Channel) ClearReplies(ctx context.Context) error {
	if err := os.WriteFile(c.replyPath(), nil, 0o644); err != nil {
		return fmt.Errorf("clear reply journal: %w", err)
	}
	c.mu.Lock()
	c.mark = 0
	c.mu.Unlock()
	return nil
}

// SeekToEnd records the current journal size.
func (c *Channel) SeekToEnd(ctx context.Context) error {
	info, err := os.Stat(c.replyPath())
	size := int64(0)
	switch {
	case err == nil:
		size = info.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("stat reply journal: %w", err)
	}
	c.mu.Lock()
	c.mark = size
	c.mu.Unlock()
	return nil
}

// WaitForReplyWithin returns the first complete journal line written after the mark.
func (c *Channel) WaitForReplyWithin(ctx context.Context, timeout time.Duration) (string, error) {
	c.ensureWatcher()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(fallbackPoll)
	defer poll.Stop()

	for {
		c.mu.Lock()
		wake := c.replied
		c.mu.Unlock()

		line, ok, err := c.nextReply()
		if err != nil {
			return "", err
		}
		if ok {
			return line, nil
		}

		select {
		case <-wake:
		case <-poll.C:
		case <-deadline.C:
			return "", fmt.Errorf("%w (%s)", command.ErrReplyTimeout, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (c *Channel) nextReply() (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.replyPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open reply journal: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("stat reply journal: %w", err)
	}
	if info.Size() < c.mark {
		// Journal was truncated by a restarting daemon.
		c.mark = 0
	}
	if _, err := f.Seek(c.mark, io.SeekStart); err != nil {
		return "", false, fmt.Errorf("seek reply journal: %w", err)
	}

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil {
		// Partial line: the writer has not finished yet.
		return "", false, nil
	}
	c.mark += int64(len(line))
	return string(bytes.TrimRight([]byte(line), "\r\n")), true, nil
}

// Ready returns a channel signalled when the command file is replaced.
func (c *Channel) Ready() <-chan struct{} {
	c.ensureWatcher()
	return c.ready
}

// ensureWatcher starts the directory watcher once. Without it callers fall back to polling.
func (c *Channel) ensureWatcher() {
	c.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			c.logger.Warn().Err(err).Msg("file watcher unavailable, falling back to polling")
			return
		}
		if err := watcher.Add(c.dir); err != nil {
			_ = watcher.Close()
			c.logger.Warn().Err(err).Str("dir", c.dir).Msg("cannot watch state dir, falling back to polling")
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		c.watcher = watcher
		c.watchCancel = cancel
		c.wg.Add(1)
		go c.watchLoop(ctx)
	})
}

func (c *Channel) watchLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case commandFile:
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					select {
					case c.ready <- struct{}{}:
					default:
					}
				}
			case replyFile:
				c.wakeWaiters()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn().Err(err).Msg("state dir watcher error")
		}
	}
}

func (c *Channel) wakeWaiters() {
	c.mu.Lock()
	close(c.replied)
	c.replied = make(chan struct{})
	c.mu.Unlock()
}

// Close stops the watcher.
func (c *Channel) Close() error {
	if c.watchCancel == nil {
		return nil
	}
	c.watchCancel()
	err := c.watcher.Close()
	c.wg.Wait()
	c.watchCancel = nil
	return err
}

func sanitizeLine(s string) string {
	return string(bytes.ReplaceAll(bytes.TrimRight([]byte(s), "\r\n"), []byte("\n"), []byte(" ")))
}
