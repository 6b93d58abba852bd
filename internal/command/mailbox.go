/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package command

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Mailbox is an in-process Channel: a capacity-one slot that is overwritten on write,
// plus an in-memory reply journal.
type Mailbox struct {
	mu      sync.Mutex
	pending *Command
	replies []string
	mark    int
	ready   chan struct{}
	replied chan struct{} // closed and replaced on every Reply
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		ready:   make(chan struct{}, 1),
		replied: make(chan struct{}),
	}
}

// ReadLatest consumes the pending command.
func (m *Mailbox) ReadLatest(ctx context.Context) (Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return None, nil
	}
	cmd := *m.pending
	m.pending = nil
	return cmd, nil
}

// Write overwrites the slot and signals readiness.
func (m *Mailbox) Write(ctx context.Context, cmd Command) error {
	m.mu.Lock()
	m.pending = &cmd
	m.mu.Unlock()
	notify(m.ready)
	return nil
}

// Reply appends to the journal and wakes waiters.
func (m *Mailbox) Reply(ctx context.Context, line string) error {
	m.mu.Lock()
	m.replies = append(m.replies, line)
	close(m.replied)
	m.replied = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// ClearReplies empties the journal.
func (m *Mailbox) ClearReplies(ctx context.Context) error {
	m.mu.Lock()
	m.replies = nil
	m.mark = 0
	m.mu.Unlock()
	return nil
}

// SeekToEnd marks the journal end.
func (m *Mailbox) SeekToEnd(ctx context.Context) error {
	m.mu.Lock()
	m.mark = len(m.replies)
	m.mu.Unlock()
	return nil
}

// WaitForReplyWithin waits for the first journal line after the mark.
func (m *Mailbox) WaitForReplyWithin(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if len(m.replies) > m.mark {
			line := m.replies[m.mark]
			m.mark++
			m.mu.Unlock()
			return line, nil
		}
		wake := m.replied
		m.mu.Unlock()

		select {
		case <-wake:
		case <-timer.C:
			return "", fmt.Errorf("%w (%s)", ErrReplyTimeout, timeout)
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Replies returns a copy of the whole journal.
func (m *Mailbox) Replies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.replies...)
}

// Ready returns the readiness notification channel.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }

// Close is a no-op.
func (m *Mailbox) Close() error { return nil }

// notify performs a non-blocking send on a capacity-one channel.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
