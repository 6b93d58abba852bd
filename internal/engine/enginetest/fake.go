/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package enginetest provides a scripted in-memory engine for controller tests.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/friendsincode/mpvremote/internal/engine"
)

// Fake is an engine.Engine whose handles replay scripted events. It tracks how many
// contexts are alive at once.
type Fake struct {
	// Clock, when set to a fake clock, is advanced by the wait timeout on every empty
	// WaitEvent so load timeouts elapse without sleeping.
	Clock *clockwork.FakeClock

	// Fail* make the corresponding step return an engine error.
	FailCreate     bool
	FailPresets    bool
	FailInitialize bool
	FailLoad       bool

	// Script is replayed by the next created handle, one event per WaitEvent call.
	// Scripted EventNone entries behave like an empty wait. Once exhausted the handle
	// reports EventNone.
	Script []engine.Event
	// OnLoad, when set, replaces Script at LoadAndPlay time.
	OnLoad func(url string) []engine.Event
	// OnWait runs at the start of the n-th WaitEvent call (1-based) of each handle.
	OnWait func(h *Handle, n int)

	mu       sync.Mutex
	live     int
	maxLive  int
	created  int
	handles  []*Handle
	onCreate func(*Handle)
}

var _ engine.Engine = (*Fake)(nil)

// Create implements engine.Engine.
func (f *Fake) Create() (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreate {
		return nil, engine.NewError("create", engine.CodeNoMemory)
	}
	f.live++
	f.created++
	if f.live > f.maxLive {
		f.maxLive = f.live
	}
	h := &Handle{fake: f, script: append([]engine.Event(nil), f.Script...), options: map[string]string{}}
	f.handles = append(f.handles, h)
	if f.onCreate != nil {
		f.onCreate(h)
	}
	return h, nil
}

// ApplyPresets implements engine.Engine.
func (f *Fake) ApplyPresets(h engine.Handle, p engine.Presets) error {
	f.mu.Lock()
	fail := f.FailPresets
	f.mu.Unlock()
	if fail {
		return engine.NewError("set_option", engine.CodeOptionNotFound)
	}
	return p.Apply(h)
}

// OnCreate registers a hook run for each new handle.
func (f *Fake) OnCreate(fn func(*Handle)) {
	f.mu.Lock()
	f.onCreate = fn
	f.mu.Unlock()
}

// Live returns the number of handles not yet terminated.
func (f *Fake) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// MaxLive returns the highest number of simultaneously live handles.
func (f *Fake) MaxLive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLive
}

// Created returns how many handles were created.
func (f *Fake) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Handles returns every handle created so far.
func (f *Fake) Handles() []*Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Handle(nil), f.handles...)
}

// Handle is a fake engine context.
type Handle struct {
	fake *Fake

	mu           sync.Mutex
	script       []engine.Event
	options      map[string]string
	initialized  bool
	pausedAtInit bool
	loadedURL    string
	commands     [][]string
	terminated   int
	waits        int
}

// SetOption implements engine.Handle.
func (h *Handle) SetOption(name, value string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.terminated > 0 {
		return engine.NewError("set_option", engine.CodeUninitialized)
	}
	h.options[name] = value
	return nil
}

// Initialize implements engine.Handle.
func (h *Handle) Initialize() error {
	if h.fake.FailInitialize {
		return engine.NewError("initialize", engine.CodeVOInitFailed)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initialized = true
	h.pausedAtInit = h.options["pause"] == "yes"
	return nil
}

// LoadAndPlay implements engine.Handle.
func (h *Handle) LoadAndPlay(url string) error {
	if h.fake.FailLoad {
		return engine.NewError("loadfile", engine.CodeLoadingFailed)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return engine.NewError("loadfile", engine.CodeUninitialized)
	}
	h.loadedURL = url
	if h.fake.OnLoad != nil {
		h.script = h.fake.OnLoad(url)
	}
	return nil
}

// Command implements engine.Handle.
func (h *Handle) Command(args ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized || h.terminated > 0 {
		return engine.NewError("command", engine.CodeUninitialized)
	}
	if len(args) == 0 {
		return engine.NewError("command", engine.CodeInvalidParameter)
	}
	h.commands = append(h.commands, append([]string(nil), args...))
	if len(args) == 3 && args[0] == "set" && args[1] == "pause" {
		h.script = append([]engine.Event{engine.Property("pause", args[2] == "yes")}, h.script...)
	}
	return nil
}

// WaitEvent implements engine.Handle.
func (h *Handle) WaitEvent(ctx context.Context, timeout time.Duration) engine.Event {
	h.mu.Lock()
	h.waits++
	n := h.waits
	h.mu.Unlock()
	if h.fake.OnWait != nil {
		h.fake.OnWait(h, n)
	}

	h.mu.Lock()
	if len(h.script) > 0 {
		ev := h.script[0]
		h.script = h.script[1:]
		h.mu.Unlock()
		if ev.Kind != engine.EventNone {
			return ev
		}
	} else {
		h.mu.Unlock()
	}

	if h.fake.Clock != nil {
		h.fake.Clock.Advance(timeout)
	}
	return engine.Event{Kind: engine.EventNone}
}

// Terminate implements engine.Handle.
func (h *Handle) Terminate() {
	h.mu.Lock()
	h.terminated++
	first := h.terminated == 1
	h.mu.Unlock()
	if !first {
		return
	}
	h.fake.mu.Lock()
	h.fake.live--
	h.fake.mu.Unlock()
}

// Push appends events to the handle's script.
func (h *Handle) Push(events ...engine.Event) {
	h.mu.Lock()
	h.script = append(h.script, events...)
	h.mu.Unlock()
}

// Option returns an option value and whether it was set.
func (h *Handle) Option(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.options[name]
	return v, ok
}

// PausedAtInit reports whether pause=yes was set before Initialize.
func (h *Handle) PausedAtInit() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pausedAtInit
}

// LoadedURL returns the URL passed to LoadAndPlay.
func (h *Handle) LoadedURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadedURL
}

// Commands returns the forwarded engine commands.
func (h *Handle) Commands() [][]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([][]string(nil), h.commands...)
}

// Terminations returns how often Terminate was called.
func (h *Handle) Terminations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}
