/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent daemon log lines in memory for the HTTP transport.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a new log buffer with the specified capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add adds a log entry to the buffer.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// All returns all log entries in chronological order.
func (b *Buffer) All() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]LogEntry, 0, b.count)
	b.scan(false, func(e LogEntry) bool {
		result = append(result, e)
		return true
	})
	return result
}

// scan visits entries oldest first, or newest first with reverse, until fn returns false.
// Callers hold the read lock.
func (b *Buffer) scan(reverse bool, fn func(LogEntry) bool) {
	oldest := 0
	if b.count == b.capacity {
		oldest = b.head
	}
	for i := 0; i < b.count; i++ {
		idx := i
		if reverse {
			idx = b.count - 1 - i
		}
		if !fn(b.entries[(oldest+idx)%b.capacity]) {
			return
		}
	}
}

// QueryParams filters log entries.
type QueryParams struct {
	// MinLevel keeps entries at or above a zerolog level name ("warn" keeps warn, error,
	// fatal and panic). Unknown names match nothing.
	MinLevel   string
	Component  string
	SessionID  string
	Search     string // case-insensitive match on message
	Since      time.Time
	Limit      int // 0 = all
	Descending bool
}

func (p QueryParams) matcher() func(LogEntry) bool {
	search := strings.ToLower(p.Search)
	minLevel := zerolog.TraceLevel
	levelOK := true
	if p.MinLevel != "" {
		lvl, err := zerolog.ParseLevel(p.MinLevel)
		minLevel, levelOK = lvl, err == nil
	}
	return func(e LogEntry) bool {
		if !levelOK {
			return false
		}
		if p.MinLevel != "" {
			lvl, err := zerolog.ParseLevel(e.Level)
			if e.Level == "" || err != nil || lvl < minLevel {
				return false
			}
		}
		if p.Component != "" && e.Component != p.Component {
			return false
		}
		if p.SessionID != "" && e.SessionID != p.SessionID {
			return false
		}
		if !p.Since.IsZero() && e.Timestamp.Before(p.Since) {
			return false
		}
		return search == "" || strings.Contains(strings.ToLower(e.Message), search)
	}
}

// Query returns matching entries. With a limit the scan stops early, so descending
// queries return the newest matches.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	match := params.matcher()

	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []LogEntry
	b.scan(params.Descending, func(e LogEntry) bool {
		if match(e) {
			out = append(out, e)
		}
		return params.Limit <= 0 || len(out) < params.Limit
	})
	return out
}

// Len returns the number of buffered entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}

// Writer wraps the buffer to implement io.Writer for zerolog.
type Writer struct {
	buffer   *Buffer
	fallback io.Writer
}

// NewWriter creates a writer that captures logs to the buffer.
func NewWriter(buffer *Buffer, fallback io.Writer) *Writer {
	return &Writer{buffer: buffer, fallback: fallback}
}

// Write implements io.Writer. Lines that are not JSON are passed to the fallback only.
func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		entry := LogEntry{Timestamp: time.Now(), Fields: make(map[string]any)}

		if v, ok := raw["level"].(string); ok {
			entry.Level = v
			delete(raw, "level")
		}
		if v, ok := raw["message"].(string); ok {
			entry.Message = v
			delete(raw, "message")
		}
		if v, ok := raw["component"].(string); ok {
			entry.Component = v
			delete(raw, "component")
		}
		if v, ok := raw["session_id"].(string); ok {
			entry.SessionID = v
			delete(raw, "session_id")
		}
		switch ts := raw["time"].(type) {
		case float64:
			entry.Timestamp = time.Unix(int64(ts), 0)
		case string:
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				entry.Timestamp = t
			}
		}
		delete(raw, "time")

		for k, v := range raw {
			entry.Fields[k] = v
		}
		w.buffer.Add(entry)
	}

	if w.fallback != nil {
		return w.fallback.Write(p)
	}
	return len(p), nil
}
