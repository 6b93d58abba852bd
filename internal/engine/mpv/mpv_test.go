package mpv

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/friendsincode/mpvremote/internal/engine"
)

// TestHelperProcess is not a real test. It stands in for the mpv binary when the test
// binary is re-executed by fakeEngine.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("MPVREMOTE_FAKE_MPV") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	runFakeMPV(args)
	os.Exit(0)
}

func runFakeMPV(args []string) {
	var socket string
	paused := false
	for _, a := range args {
		switch {
		case strings.HasPrefix(a, "--input-ipc-server="):
			socket = strings.TrimPrefix(a, "--input-ipc-server=")
		case a == "--pause=yes":
			paused = true
		}
	}
	ln, err := net.Listen("unix", socket)
	if err != nil {
		os.Exit(2)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		os.Exit(2)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	dec := json.NewDecoder(conn)
	write := func(v map[string]any) { _ = enc.Encode(v) }

	for {
		var req struct {
			Command   []any `json:"command"`
			RequestID int64 `json:"request_id"`
		}
		if err := dec.Decode(&req); err != nil || len(req.Command) == 0 {
			return
		}
		name, _ := req.Command[0].(string)
		reply := map[string]any{"request_id": req.RequestID, "error": "success"}

		switch name {
		case "observe_property":
			write(reply)
		case "loadfile":
			url, _ := req.Command[1].(string)
			write(reply)
			write(map[string]any{"event": "start-file"})
			if strings.Contains(url, "missing") {
				write(map[string]any{"event": "end-file", "reason": "error", "file_error": "loading failed"})
				continue
			}
			write(map[string]any{"event": "file-loaded"})
			write(map[string]any{"event": "property-change", "name": "pause", "data": paused})
			write(map[string]any{"event": "property-change", "name": "duration", "data": 42.5})
			write(map[string]any{"event": "playback-restart"})
		case "set":
			if len(req.Command) == 3 && req.Command[1] == "pause" {
				paused = req.Command[2] == "yes"
				write(reply)
				write(map[string]any{"event": "property-change", "name": "pause", "data": paused})
				continue
			}
			write(reply)
		case "stop":
			write(reply)
			write(map[string]any{"event": "end-file", "reason": "stop"})
		case "quit":
			write(map[string]any{"event": "shutdown"})
			return
		default:
			reply["error"] = "invalid parameter"
			write(reply)
		}
	}
}

func fakeEngine(t *testing.T) *Engine {
	t.Helper()
	dir, err := os.MkdirTemp("", "mpvr")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	e := New(os.Args[0], zerolog.Nop())
	e.BaseArgs = []string{"-test.run=TestHelperProcess", "--"}
	e.Env = []string{"MPVREMOTE_FAKE_MPV=1"}
	e.SocketDir = dir
	e.QuitTimeout = time.Second
	return e
}

// waitFor polls h until match returns true or the deadline passes.
func waitFor(t *testing.T, h engine.Handle, match func(engine.Event) bool) engine.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev := h.WaitEvent(context.Background(), 100*time.Millisecond)
		if ev.Kind != engine.EventNone && match(ev) {
			return ev
		}
	}
	t.Fatal("expected event did not arrive")
	return engine.Event{}
}

func TestHandleLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := fakeEngine(t)
	h, err := e.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.ApplyPresets(h, engine.DefaultPresets()); err != nil {
		t.Fatalf("presets: %v", err)
	}
	if err := h.SetOption("pause", "yes"); err != nil {
		t.Fatalf("set pause: %v", err)
	}
	if err := h.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.LoadAndPlay("/media/clip.mkv"); err != nil {
		t.Fatalf("load: %v", err)
	}

	waitFor(t, h, func(ev engine.Event) bool { return ev.Sub == engine.OtherFileLoaded })
	ev := waitFor(t, h, func(ev engine.Event) bool { return ev.Sub == engine.OtherPropertyChange && ev.Name == "pause" })
	if ev.Value != true {
		t.Fatalf("expected to start paused, got %v", ev.Value)
	}

	if err := h.Command("set", "pause", "no"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	ev = waitFor(t, h, func(ev engine.Event) bool { return ev.Name == "pause" })
	if ev.Value != false {
		t.Fatalf("expected unpaused, got %v", ev.Value)
	}

	err = h.Command("frobnicate")
	var engErr *engine.Error
	if !errors.As(err, &engErr) || engErr.Code != engine.CodeInvalidParameter || engErr.Op != "command" {
		t.Fatalf("expected invalid parameter engine error, got %v", err)
	}

	socket := h.(*Handle).socket
	h.Terminate()
	h.Terminate()

	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err = %v", err)
	}
	if err := h.LoadAndPlay("/media/other.mkv"); !errors.As(err, &engErr) || engErr.Code != engine.CodeUninitialized {
		t.Fatalf("expected uninitialized error after terminate, got %v", err)
	}
	if ev := h.WaitEvent(context.Background(), 10*time.Millisecond); ev.Kind != engine.EventShutdown {
		t.Fatalf("terminated handle should report shutdown, got %v", ev.Kind)
	}
}

func TestLoadFailureEndsFile(t *testing.T) {
	e := fakeEngine(t)
	h, _ := e.Create()
	defer h.Terminate()

	if err := h.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := h.LoadAndPlay("/media/missing.mkv"); err != nil {
		t.Fatalf("load: %v", err)
	}
	ev := waitFor(t, h, func(ev engine.Event) bool { return ev.Kind == engine.EventFileEnded })
	var engErr *engine.Error
	if ev.Reason != "error" || !errors.As(ev.Err, &engErr) || engErr.Code != engine.CodeLoadingFailed {
		t.Fatalf("unexpected end-file event %+v", ev)
	}
}

func TestStopCommandEndsFile(t *testing.T) {
	e := fakeEngine(t)
	h, _ := e.Create()
	defer h.Terminate()

	if err := h.Initialize(); err != nil {
		t.Fatal(err)
	}
	_ = h.LoadAndPlay("/media/clip.mkv")
	waitFor(t, h, func(ev engine.Event) bool { return ev.Sub == engine.OtherFileLoaded })

	if err := h.Command("stop"); err != nil {
		t.Fatal(err)
	}
	ev := waitFor(t, h, func(ev engine.Event) bool { return ev.Kind == engine.EventFileEnded })
	if ev.Reason != "stop" || ev.Err != nil {
		t.Fatalf("unexpected end-file event %+v", ev)
	}
}

func TestInitializeWithoutBinary(t *testing.T) {
	e := New("/nonexistent/mpv-binary", zerolog.Nop())
	e.SocketDir = t.TempDir()
	h, err := e.Create()
	if err != nil {
		t.Fatal(err)
	}
	err = h.Initialize()
	var engErr *engine.Error
	if !errors.As(err, &engErr) || engErr.Code != engine.CodeUninitialized {
		t.Fatalf("expected uninitialized error, got %v", err)
	}
	h.Terminate()
	h.Terminate()
}

func TestSetOptionValidation(t *testing.T) {
	h, _ := New("mpv", zerolog.Nop()).Create()
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"pause", false},
		{"", true},
		{"bad name", true},
		{"a=b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.SetOption(tt.name, "yes")
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetOption(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
	if got := h.(*Handle).startOpts; len(got) != 1 || got[0] != "--pause=yes" {
		t.Fatalf("unexpected startup options %v", got)
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		in   message
		kind engine.EventKind
		sub  engine.OtherKind
	}{
		{message{Event: "end-file", Reason: "eof"}, engine.EventFileEnded, engine.OtherUnknown},
		{message{Event: "shutdown"}, engine.EventShutdown, engine.OtherUnknown},
		{message{Event: "file-loaded"}, engine.EventOther, engine.OtherFileLoaded},
		{message{Event: "playback-restart"}, engine.EventOther, engine.OtherPlaybackRestart},
		{message{Event: "idle"}, engine.EventOther, engine.OtherIdle},
		{message{Event: "property-change", Name: "time-pos", Data: 1.5}, engine.EventOther, engine.OtherPropertyChange},
		{message{Event: "audio-reconfig"}, engine.EventOther, engine.OtherUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in.Event, func(t *testing.T) {
			ev := translate(tt.in)
			if ev.Kind != tt.kind || ev.Sub != tt.sub {
				t.Fatalf("translate(%s) = %v/%v, want %v/%v", tt.in.Event, ev.Kind, ev.Sub, tt.kind, tt.sub)
			}
		})
	}
}
