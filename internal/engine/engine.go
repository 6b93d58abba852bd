/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine defines the contract between the session controller and the external
// media engine that does the actual decoding and rendering.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Engine creates playback contexts.
type Engine interface {
	// Create allocates a context. It is not playing anything until Initialize and
	// LoadAndPlay succeed.
	Create() (Handle, error)
	// ApplyPresets sets the standard option set on an uninitialized context.
	ApplyPresets(h Handle, p Presets) error
}

// Handle is one engine context. A handle is owned by a single goroutine.
type Handle interface {
	// SetOption sets an option. Before Initialize it becomes a startup option.
	SetOption(name, value string) error
	Initialize() error
	LoadAndPlay(url string) error
	// Command forwards an engine command verbatim.
	Command(args ...string) error
	// WaitEvent blocks for at most timeout and returns EventNone when nothing happened.
	WaitEvent(ctx context.Context, timeout time.Duration) Event
	// Terminate destroys the context. It is safe to call more than once.
	Terminate()
}

// EventKind classifies engine events for the controller loop.
type EventKind int

const (
	EventNone EventKind = iota
	EventFileEnded
	EventShutdown
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventFileEnded:
		return "file-ended"
	case EventShutdown:
		return "shutdown"
	default:
		return "other"
	}
}

// OtherKind refines EventOther.
type OtherKind int

const (
	OtherUnknown OtherKind = iota
	OtherFileLoaded
	OtherPlaybackRestart
	OtherPropertyChange
	OtherIdle
)

// Event is a single engine notification.
type Event struct {
	Kind EventKind
	Sub  OtherKind
	// Name is the property name for OtherPropertyChange and the raw event name otherwise.
	Name  string
	Value any
	// Reason is the end-file reason reported with EventFileEnded ("eof", "stop", "error").
	Reason string
	Err    error
}

// Property builds a property-change event.
func Property(name string, value any) Event {
	return Event{Kind: EventOther, Sub: OtherPropertyChange, Name: name, Value: value}
}

// Engine error codes, matching the engine's own numbering.
const (
	CodeSuccess             = 0
	CodeEventQueueFull      = -1
	CodeNoMemory            = -2
	CodeUninitialized       = -3
	CodeInvalidParameter    = -4
	CodeOptionNotFound      = -5
	CodeOptionFormat        = -6
	CodeOptionError         = -7
	CodePropertyNotFound    = -8
	CodePropertyFormat      = -9
	CodePropertyUnavailable = -10
	CodePropertyError       = -11
	CodeCommand             = -12
	CodeLoadingFailed       = -13
	CodeAOInitFailed        = -14
	CodeVOInitFailed        = -15
	CodeNothingToPlay       = -16
	CodeUnknownFormat       = -17
	CodeUnsupported         = -18
	CodeNotImplemented      = -19
	CodeGeneric             = -20
)

var codeMessages = map[int]string{
	CodeSuccess:             "success",
	CodeEventQueueFull:      "event queue full",
	CodeNoMemory:            "memory allocation failed",
	CodeUninitialized:       "core not initialized",
	CodeInvalidParameter:    "invalid parameter",
	CodeOptionNotFound:      "option not found",
	CodeOptionFormat:        "unsupported format for accessing option",
	CodeOptionError:         "error setting option",
	CodePropertyNotFound:    "property not found",
	CodePropertyFormat:      "unsupported format for accessing property",
	CodePropertyUnavailable: "property unavailable",
	CodePropertyError:       "error accessing property",
	CodeCommand:             "error running command",
	CodeLoadingFailed:       "loading failed",
	CodeAOInitFailed:        "audio output initialization failed",
	CodeVOInitFailed:        "video output initialization failed",
	CodeNothingToPlay:       "no audio or video data played",
	CodeUnknownFormat:       "unrecognized file format",
	CodeUnsupported:         "not supported",
	CodeNotImplemented:      "operation not implemented",
	CodeGeneric:             "something happened",
}

// CodeMessage returns the engine's description of code.
func CodeMessage(code int) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return "unknown error"
}

// CodeFromMessage maps an engine error string back to its code. Unknown strings map to
// CodeGeneric.
func CodeFromMessage(msg string) int {
	for code, m := range codeMessages {
		if m == msg {
			return code
		}
	}
	return CodeGeneric
}

// Error is a non-zero engine result.
type Error struct {
	Code int
	Op   string
	Msg  string
}

// NewError builds an Error whose message is the engine description of code.
func NewError(op string, code int) *Error {
	return &Error{Code: code, Op: op, Msg: CodeMessage(code)}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("engine: %s (%d)", e.Msg, e.Code)
	}
	return fmt.Sprintf("engine %s: %s (%d)", e.Op, e.Msg, e.Code)
}
