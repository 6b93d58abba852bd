/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package redischan implements the command channel on Redis so that clients on other
// hosts can drive the daemon. The pending command is a single string key (latest wins),
// replies are a list, and writes are announced on a pub/sub channel.
package redischan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/command"
)

const replyPoll = 50 * time.Millisecond

// Channel is a Redis-backed command.Channel.
type Channel struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	mark int64

	ready     chan struct{}
	subOnce   sync.Once
	pubsub    *redis.PubSub
	subCancel context.CancelFunc
	wg        sync.WaitGroup
}

var _ command.Channel = (*Channel)(nil)

// New wraps an existing client. prefix namespaces all keys.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Channel {
	return &Channel{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "redischan").Logger(),
		ready:  make(chan struct{}, 1),
	}
}

func (c *Channel) commandKey() string { return c.prefix + ":command" }
func (c *Channel) repliesKey() string { return c.prefix + ":replies" }
func (c *Channel) notifyChannel() string { return c.prefix + ":command:written" }

// Write overwrites the pending command and announces it.
func (c *Channel) Write(ctx context.Context, cmd command.Command) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.commandKey(), cmd.String(), 0)
	pipe.Publish(ctx, c.notifyChannel(), string(cmd.Kind))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// ReadLatest atomically takes the pending command.
func (c *Channel) ReadLatest(ctx context.Context) (command.Command, error) {
	line, err := c.client.GetDel(ctx, c.commandKey()).Result()
	if errors.Is(err, redis.Nil) {
		return command.None, nil
	}
	if err != nil {
		return command.None, fmt.Errorf("read command: %w", err)
	}
	return command.Parse(line)
}

// Reply appends a journal line.
func (c *Channel) Reply(ctx context.Context, line string) error {
	if err := c.client.RPush(ctx, c.repliesKey(), line).Err(); err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	return nil
}

// ClearReplies drops the journal.
func (c *Channel) ClearReplies(ctx context.Context) error {
	if err := c.client.Del(ctx, c.repliesKey()).Err(); err != nil {
		return fmt.Errorf("clear replies: %w", err)
	}
	c.mu.Lock()
	c.mark = 0
	c.mu.Unlock()
	return nil
}

// SeekToEnd marks the current journal length.
func (c *Channel) SeekToEnd(ctx context.Context) error {
	n, err := c.client.LLen(ctx, c.repliesKey()).Result()
	if err != nil {
		return fmt.Errorf("measure replies: %w", err)
	}
	c.mu.Lock()
	c.mark = n
	c.mu.Unlock()
	return nil
}

// WaitForReplyWithin polls the journal for the entry after the mark.
func (c *Channel) WaitForReplyWithin(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(replyPoll)
	defer poll.Stop()

	for {
		c.mu.Lock()
		mark := c.mark
		c.mu.Unlock()

		n, err := c.client.LLen(ctx, c.repliesKey()).Result()
		if err != nil {
			return "", fmt.Errorf("measure replies: %w", err)
		}
		if n < mark {
			mark = 0
		}
		if n > mark {
			line, err := c.client.LIndex(ctx, c.repliesKey(), mark).Result()
			if err != nil {
				return "", fmt.Errorf("read reply: %w", err)
			}
			c.mu.Lock()
			c.mark = mark + 1
			c.mu.Unlock()
			return line, nil
		}

		select {
		case <-poll.C:
		case <-deadline.C:
			return "", fmt.Errorf("%w (%s)", command.ErrReplyTimeout, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Ready subscribes (once) to write announcements.
func (c *Channel) Ready() <-chan struct{} {
	c.subOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.pubsub = c.client.Subscribe(ctx, c.notifyChannel())
		c.subCancel = cancel
		c.wg.Add(1)
		go c.forward(ctx)
	})
	return c.ready
}

func (c *Channel) forward(ctx context.Context) {
	defer c.wg.Done()
	msgs := c.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case c.ready <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops the subscription. The client itself is owned by the caller.
func (c *Channel) Close() error {
	if c.subCancel == nil {
		return nil
	}
	c.subCancel()
	err := c.pubsub.Close()
	c.wg.Wait()
	c.subCancel = nil
	return err
}
