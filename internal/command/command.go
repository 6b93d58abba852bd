/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package command defines the control commands a client can hand to the daemon and the
// single-slot channels that carry them.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates command kinds.
type Kind string

const (
	KindNone   Kind = ""
	KindOpen   Kind = "open"
	KindStop   Kind = "stop"
	KindKill   Kind = "kill"
	KindPause  Kind = "pause"
	KindResume Kind = "resume"
	KindRaw    Kind = "command"
)

var (
	// ErrParse reports a command line that cannot be understood.
	ErrParse = errors.New("parse command")
	// ErrReplyTimeout reports that no reply arrived within the deadline.
	ErrReplyTimeout = errors.New("no reply within deadline")
)

// Command is a tagged control value. Only the fields of its Kind are meaningful.
type Command struct {
	Kind        Kind     `json:"kind"`
	URL         string   `json:"url,omitempty"`
	StartPaused bool     `json:"paused,omitempty"`
	Args        []string `json:"args,omitempty"`
}

// None is the empty command returned when nothing is pending.
var None = Command{}

// Open builds an OPEN command.
func Open(url string, paused bool) Command {
	return Command{Kind: KindOpen, URL: url, StartPaused: paused}
}

// Stop builds a STOP command.
func Stop() Command { return Command{Kind: KindStop} }

// Kill builds a KILL command.
func Kill() Command { return Command{Kind: KindKill} }

// Pause builds a PAUSE command.
func Pause() Command { return Command{Kind: KindPause} }

// Resume builds a RESUME command.
func Resume() Command { return Command{Kind: KindResume} }

// Raw builds a passthrough engine command.
func Raw(args ...string) Command { return Command{Kind: KindRaw, Args: args} }

// IsNone reports whether c carries no command.
func (c Command) IsNone() bool { return c.Kind == KindNone }

// String renders the command in its line form, the inverse of Parse.
func (c Command) String() string {
	switch c.Kind {
	case KindNone:
		return ""
	case KindOpen:
		s := "open " + strconv.Quote(c.URL)
		if c.StartPaused {
			s += " --paused"
		}
		return s
	case KindRaw:
		parts := make([]string, 0, len(c.Args)+1)
		parts = append(parts, string(KindRaw))
		for _, a := range c.Args {
			parts = append(parts, quoteIfNeeded(a))
		}
		return strings.Join(parts, " ")
	default:
		return string(c.Kind)
	}
}

// Parse reads a command line such as `open "/media/a b.mkv" --paused`.
// An empty line yields None.
func Parse(line string) (Command, error) {
	fields, err := split(strings.TrimSpace(line))
	if err != nil {
		return None, err
	}
	if len(fields) == 0 {
		return None, nil
	}

	switch Kind(strings.ToLower(fields[0])) {
	case KindOpen:
		if len(fields) < 2 || fields[1] == "" {
			return None, fmt.Errorf("%w: open requires a url", ErrParse)
		}
		cmd := Open(fields[1], false)
		for _, opt := range fields[2:] {
			switch opt {
			case "--paused", "-p":
				cmd.StartPaused = true
			default:
				return None, fmt.Errorf("%w: unknown open option %q", ErrParse, opt)
			}
		}
		return cmd, nil
	case KindStop:
		return Stop(), nil
	case KindKill:
		return Kill(), nil
	case KindPause:
		return Pause(), nil
	case KindResume, "play":
		return Resume(), nil
	case KindRaw:
		if len(fields) < 2 {
			return None, fmt.Errorf("%w: command requires arguments", ErrParse)
		}
		return Raw(fields[1:]...), nil
	default:
		return None, fmt.Errorf("%w: unknown command %q", ErrParse, fields[0])
	}
}

// split tokenizes on whitespace, honouring double-quoted Go string literals.
func split(line string) ([]string, error) {
	var out []string
	for len(line) > 0 {
		line = strings.TrimLeft(line, " \t")
		if line == "" {
			break
		}
		if line[0] == '"' {
			end := closingQuote(line)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote", ErrParse)
			}
			tok, err := strconv.Unquote(line[:end+1])
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			out = append(out, tok)
			line = line[end+1:]
			continue
		}
		end := strings.IndexAny(line, " \t")
		if end < 0 {
			end = len(line)
		}
		out = append(out, line[:end])
		line = line[end:]
	}
	return out, nil
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"\\") {
		return strconv.Quote(s)
	}
	return s
}

// Channel carries at most one pending command from clients to the daemon and a reply
// journal back. Writes overwrite any unread command.
type Channel interface {
	// ReadLatest consumes the pending command, returning None when there is none.
	ReadLatest(ctx context.Context) (Command, error)
	// Write replaces the pending command.
	Write(ctx context.Context, cmd Command) error
	// Reply appends a line to the reply journal.
	Reply(ctx context.Context, line string) error
	// ClearReplies truncates the reply journal.
	ClearReplies(ctx context.Context) error
	// SeekToEnd marks the current end of the journal; later waits only see newer lines.
	SeekToEnd(ctx context.Context) error
	// WaitForReplyWithin blocks until a journal line newer than the mark appears.
	WaitForReplyWithin(ctx context.Context, timeout time.Duration) (string, error)
	// Ready is signalled (best effort, may be spurious) after a command is written.
	Ready() <-chan struct{}
	Close() error
}

// WaitForLine consumes journal lines after the mark until one equals want. Other lines
// are skipped. The timeout covers the whole wait.
func WaitForLine(ctx context.Context, ch Channel, want string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w (%s)", ErrReplyTimeout, timeout)
		}
		line, err := ch.WaitForReplyWithin(ctx, remaining)
		if errors.Is(err, ErrReplyTimeout) {
			return fmt.Errorf("%w (%s)", ErrReplyTimeout, timeout)
		}
		if err != nil {
			return err
		}
		if line == want {
			return nil
		}
	}
}
