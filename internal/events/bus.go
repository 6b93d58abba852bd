/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package events fans player events out to in-process subscribers.
package events

import (
	"sync"

	"github.com/friendsincode/mpvremote/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	EventStatus       EventType = "status"
	EventSessionStart EventType = "session.start"
	EventSessionEnd   EventType = "session.end"
	EventCommand      EventType = "command"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads. It is closed by Unsubscribe or Close.
type Subscriber chan Payload

const subscriberBuffer = 8

// Bus is an in-process pubsub. Slow subscribers miss events rather than blocking the
// player, and every miss is counted.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Subscriber
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for eventType. After Close the returned channel is
// already closed.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[eventType] = append(b.subs[eventType], ch)
	return ch
}

// Publish delivers payload to the current subscribers of eventType and returns how many
// received it.
func (b *Bus) Publish(eventType EventType, payload Payload) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
			delivered++
		default:
			telemetry.EventsDroppedTotal.WithLabelValues(string(eventType)).Inc()
		}
	}
	return delivered
}

// Unsubscribe removes the subscriber and closes it. Unknown subscribers are ignored.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Subscribers returns the number of subscribers for eventType.
func (b *Bus) Subscribers(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Close closes every subscriber. Later publishes are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for t, subs := range b.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subs, t)
	}
}
