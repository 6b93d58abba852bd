/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/events"
)

// Publisher owns the in-memory snapshot. Setters mutate it; Push persists it and fans it
// out. Readers only ever get copies.
type Publisher struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	clock  clockwork.Clock

	mu    sync.RWMutex
	cur   Status
	dirty bool
	sinks []Sink
}

// NewPublisher creates a publisher over store. Pushed snapshots are also published on bus
// as EventStatus. A nil bus or clock gets a private bus and the real clock.
func NewPublisher(store Store, bus *events.Bus, logger zerolog.Logger, clock clockwork.Clock) *Publisher {
	if bus == nil {
		bus = events.NewBus()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Publisher{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "status").Logger(),
		clock:  clock,
		cur:    Default(),
	}
}

// AddSink registers a fan-out target.
func (p *Publisher) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Pull replaces the in-memory snapshot with the persisted one.
func (p *Publisher) Pull(ctx context.Context) (Status, error) {
	st, err := p.store.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("pull status: %w", err)
	}
	p.mu.Lock()
	p.cur = st
	p.dirty = false
	p.mu.Unlock()
	return st, nil
}

// Push persists the current snapshot and forwards it to sinks. Sink failures are logged
// and do not fail the push.
func (p *Publisher) Push(ctx context.Context) error {
	p.mu.Lock()
	p.cur.UpdatedAt = p.clock.Now().UTC()
	st := p.cur
	p.dirty = false
	sinks := append([]Sink(nil), p.sinks...)
	p.mu.Unlock()

	if err := p.store.Save(ctx, st); err != nil {
		return fmt.Errorf("push status: %w", err)
	}
	p.bus.Publish(events.EventStatus, events.Payload{"status": st})
	for _, s := range sinks {
		if err := s.PublishStatus(ctx, st); err != nil {
			p.logger.Warn().Err(err).Msg("status sink failed")
		}
	}
	return nil
}

// Subscribe returns a stream of pushed snapshots and a function that ends it.
func (p *Publisher) Subscribe() (<-chan Status, func()) {
	sub := p.bus.Subscribe(events.EventStatus)
	out := make(chan Status, cap(sub))
	done := make(chan struct{})
	go func() {
		defer close(out)
		for payload := range sub {
			st, ok := payload["status"].(Status)
			if !ok {
				continue
			}
			select {
			case out <- st:
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			p.bus.Unsubscribe(events.EventStatus, sub)
		})
	}
}

// PushIfDirty pushes only when a setter changed the snapshot since the last push.
func (p *Publisher) PushIfDirty(ctx context.Context) error {
	p.mu.RLock()
	dirty := p.dirty
	p.mu.RUnlock()
	if !dirty {
		return nil
	}
	return p.Push(ctx)
}

// Snapshot returns a copy of the current in-memory status.
func (p *Publisher) Snapshot() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cur
}

func (p *Publisher) update(fn func(*Status)) {
	p.mu.Lock()
	before := p.cur
	fn(&p.cur)
	if p.cur != before {
		p.dirty = true
	}
	p.mu.Unlock()
}

// SetDefault resets every field to the idle/terminated value.
func (p *Publisher) SetDefault() { p.update(func(s *Status) { *s = Default() }) }

func (p *Publisher) SetRunning(v bool) { p.update(func(s *Status) { s.Running = v }) }

func (p *Publisher) SetLoaded(v bool) { p.update(func(s *Status) { s.Loaded = v }) }

func (p *Publisher) SetPaused(v bool) { p.update(func(s *Status) { s.Paused = v }) }

func (p *Publisher) SetURL(url string) { p.update(func(s *Status) { s.URL = url }) }

func (p *Publisher) SetMediaType(t MediaType) { p.update(func(s *Status) { s.MediaType = t }) }

func (p *Publisher) SetSessionID(id string) { p.update(func(s *Status) { s.SessionID = id }) }

// SetError records an error; code 0 with an empty message clears it.
func (p *Publisher) SetError(code int, msg string) {
	p.update(func(s *Status) { s.Error = Error{Code: code, Message: msg} })
}

// ClearError resets the error to {0, ""}.
func (p *Publisher) ClearError() { p.SetError(0, "") }

// SetPosition records playback position and duration in seconds.
func (p *Publisher) SetPosition(pos, dur float64) {
	p.update(func(s *Status) {
		s.Position = pos
		if dur > 0 {
			s.Duration = dur
		}
	})
}

// SetDuration records the media duration in seconds.
func (p *Publisher) SetDuration(dur float64) { p.update(func(s *Status) { s.Duration = dur }) }

// ResetPlayback clears everything tied to an engine context.
func (p *Publisher) ResetPlayback() {
	p.update(func(s *Status) {
		s.Loaded = false
		s.Paused = false
		s.Position = 0
		s.Duration = 0
		s.SessionID = ""
	})
}

// Age reports how long ago the snapshot was last pushed.
func (p *Publisher) Age() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cur.UpdatedAt.IsZero() {
		return 0
	}
	return p.clock.Since(p.cur.UpdatedAt)
}
