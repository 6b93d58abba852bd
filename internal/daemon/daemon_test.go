package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/friendsincode/mpvremote/internal/command"
	"github.com/friendsincode/mpvremote/internal/engine"
	"github.com/friendsincode/mpvremote/internal/engine/enginetest"
	"github.com/friendsincode/mpvremote/internal/session"
	"github.com/friendsincode/mpvremote/internal/status"
)

type transportFunc func(ctx context.Context) error

func (f transportFunc) Serve(ctx context.Context) error { return f(ctx) }

type stubController struct {
	mu     sync.Mutex
	runs   int
	closes int
	run    func(ctx context.Context) error
}

func (s *stubController) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (s *stubController) Close() {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
}

func newPublisher(t *testing.T, running bool) (*status.Publisher, *status.MemoryStore) {
	t.Helper()
	store := status.NewMemoryStore()
	if running {
		st := status.Default()
		st.Running = true
		if err := store.Save(context.Background(), st); err != nil {
			t.Fatal(err)
		}
	}
	return status.NewPublisher(store, nil, zerolog.Nop(), nil), store
}

func TestStartRefusesSecondInstance(t *testing.T) {
	pub, _ := newPublisher(t, true)
	mb := command.NewMailbox()
	d := New(Options{Channel: mb, Publisher: pub, Controller: &stubController{}, Logger: zerolog.Nop()})

	err := d.Start(context.Background(), false)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err.Error() != "Another MPV remote player process is already running" {
		t.Fatalf("unexpected message %q", err)
	}
	if len(mb.Replies()) != 0 {
		t.Fatal("a refused start must not touch the journal")
	}
}

func TestStartPublishesRunning(t *testing.T) {
	pub, store := newPublisher(t, false)
	mb := command.NewMailbox()
	_ = mb.Reply(context.Background(), "old line")
	pub.SetError(1, "old error")

	d := New(Options{Channel: mb, Publisher: pub, Controller: &stubController{}, Logger: zerolog.Nop()})
	if err := d.Start(context.Background(), false); err != nil {
		t.Fatalf("start: %v", err)
	}

	st, _ := store.Load(context.Background())
	if !st.Running || st.Loaded || st.Error != (status.Error{}) {
		t.Fatalf("unexpected status %+v", st)
	}
	if got := mb.Replies(); len(got) != 1 || got[0] != MsgRunning {
		t.Fatalf("expected fresh journal with running line, got %v", got)
	}
}

func TestForceStart(t *testing.T) {
	tests := []struct {
		name   string
		answer bool
	}{
		{"previous answers", true},
		{"previous hung", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, store := newPublisher(t, true)
			mb := command.NewMailbox()
			ctx := context.Background()

			answered := make(chan struct{})
			if tt.answer {
				go func() {
					defer close(answered)
					<-mb.Ready()
					if cmd, _ := mb.ReadLatest(ctx); cmd.Kind == command.KindKill {
						_ = mb.Reply(ctx, MsgStopped)
					}
				}()
			} else {
				close(answered)
			}

			ctrl := &stubController{run: func(ctx context.Context) error {
				if cmd, _ := mb.ReadLatest(ctx); !cmd.IsNone() {
					t.Errorf("stale %s reached the controller", cmd)
				}
				return nil
			}}
			d := New(Options{Channel: mb, Publisher: pub, Controller: ctrl, KillWait: 100 * time.Millisecond, Logger: zerolog.Nop()})
			if err := d.Start(ctx, true); err != nil {
				t.Fatalf("forced start: %v", err)
			}
			<-answered

			st, _ := store.Load(ctx)
			if !st.Running {
				t.Fatal("forced start should publish running")
			}
			if err := d.Run(ctx); err != nil {
				t.Fatalf("run: %v", err)
			}
		})
	}
}

func TestForceStartWaitsForPreviousShutdown(t *testing.T) {
	pubA, store := newPublisher(t, false)
	mb := command.NewMailbox()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := &enginetest.Fake{Clock: clock, OnLoad: func(string) []engine.Event {
		return []engine.Event{{Kind: engine.EventOther, Sub: engine.OtherFileLoaded}}
	}}
	playing := make(chan struct{})
	fake.OnWait = func(_ *enginetest.Handle, n int) {
		if n == 2 {
			close(playing)
		}
	}
	ctrlA := session.New(fake, mb, pubA, session.Options{Clock: clock, Logger: zerolog.Nop()})
	path := mediaFile(t)
	slowStop := transportFunc(func(ctx context.Context) error {
		_ = mb.Write(ctx, command.Open(path, false))
		<-ctx.Done()
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	a := New(Options{Channel: mb, Publisher: pubA, Controller: ctrlA, Transport: slowStop, Logger: zerolog.Nop()})
	if err := a.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	aDone := make(chan error, 1)
	go func() { aDone <- a.Run(ctx) }()
	select {
	case <-playing:
	case <-time.After(5 * time.Second):
		t.Fatal("first player never started playing")
	}

	pubB := status.NewPublisher(store, nil, zerolog.Nop(), nil)
	b := New(Options{Channel: mb, Publisher: pubB, Controller: &stubController{}, KillWait: 2 * time.Second, Logger: zerolog.Nop()})
	if err := b.Start(ctx, true); err != nil {
		t.Fatalf("forced start: %v", err)
	}

	select {
	case err := <-aDone:
		if err != nil {
			t.Fatalf("first player run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first player did not exit")
	}
	if !ctrlA.KillRequested() || fake.Live() != 0 {
		t.Fatalf("kill=%v live=%d", ctrlA.KillRequested(), fake.Live())
	}

	st, _ := store.Load(ctx)
	if !st.Running {
		t.Fatalf("new player must stay published as running, got %+v", st)
	}
	if got := mb.Replies(); len(got) != 1 || got[0] != MsgRunning {
		t.Fatalf("journal should hold only the new player's line, got %v", got)
	}
}

func mediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mkv")
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunKillShutsDown(t *testing.T) {
	defer goleak.VerifyNone(t)

	pub, store := newPublisher(t, false)
	mb := command.NewMailbox()
	clock := clockwork.NewFakeClock()
	fake := &enginetest.Fake{Clock: clock, OnLoad: func(string) []engine.Event {
		return []engine.Event{{Kind: engine.EventOther, Sub: engine.OtherFileLoaded}}
	}}
	ctx := context.Background()
	fake.OnWait = func(_ *enginetest.Handle, n int) {
		if n == 3 {
			_ = mb.Write(ctx, command.Kill())
		}
	}
	ctrl := session.New(fake, mb, pub, session.Options{Clock: clock, Logger: zerolog.Nop()})

	path := mediaFile(t)
	serve := transportFunc(func(ctx context.Context) error {
		_ = mb.Write(ctx, command.Open(path, false))
		<-ctx.Done()
		return nil
	})

	var order []string
	d := New(Options{Channel: mb, Publisher: pub, Controller: ctrl, Transport: serve, Logger: zerolog.Nop()})
	d.RegisterShutdownHook("first", func(context.Context) error { order = append(order, "first"); return nil })
	d.RegisterShutdownHook("second", func(context.Context) error { order = append(order, "second"); return nil })

	if err := d.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if !ctrl.KillRequested() || fake.Live() != 0 || fake.Created() != 1 {
		t.Fatalf("kill=%v live=%d created=%d", ctrl.KillRequested(), fake.Live(), fake.Created())
	}
	st, _ := store.Load(ctx)
	if st.Running || st.Loaded || st.Paused {
		t.Fatalf("expected stopped status, got %+v", st)
	}
	replies := mb.Replies()
	if replies[0] != MsgRunning || replies[len(replies)-1] != MsgStopped {
		t.Fatalf("unexpected journal %v", replies)
	}
	if strings.Join(order, ",") != "second,first" {
		t.Fatalf("hooks ran as %v", order)
	}

	if err := d.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || fake.Handles()[0].Terminations() != 1 {
		t.Fatal("second shutdown must be a no-op")
	}
	if n := len(mb.Replies()); n != len(replies) {
		t.Fatal("second shutdown wrote to the journal")
	}
}

func TestRunCancelTerminatesSession(t *testing.T) {
	pub, store := newPublisher(t, false)
	mb := command.NewMailbox()
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := &enginetest.Fake{Clock: clock}
	fake.OnWait = func(_ *enginetest.Handle, n int) {
		if n == 2 {
			cancel()
		}
	}
	ctrl := session.New(fake, mb, pub, session.Options{Clock: clock, Logger: zerolog.Nop()})
	path := mediaFile(t)
	serve := transportFunc(func(ctx context.Context) error {
		_ = mb.Write(ctx, command.Open(path, false))
		<-ctx.Done()
		return nil
	})

	d := New(Options{Channel: mb, Publisher: pub, Controller: ctrl, Transport: serve, Logger: zerolog.Nop()})
	if err := d.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if fake.Live() != 0 {
		t.Fatal("engine context leaked")
	}
	if ctrl.KillRequested() {
		t.Fatal("cancellation is not a kill")
	}
	st, _ := store.Load(context.Background())
	if st.Running {
		t.Fatalf("expected stopped status, got %+v", st)
	}
}

func TestRunSignalTerminatesSession(t *testing.T) {
	pub, store := newPublisher(t, false)
	mb := command.NewMailbox()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	fake := &enginetest.Fake{Clock: clock, OnLoad: func(string) []engine.Event {
		return []engine.Event{{Kind: engine.EventOther, Sub: engine.OtherFileLoaded}}
	}}
	fake.OnWait = func(_ *enginetest.Handle, n int) {
		if n == 2 {
			_ = syscall.Kill(os.Getpid(), syscall.SIGUSR1)
		}
	}
	ctrl := session.New(fake, mb, pub, session.Options{Clock: clock, Logger: zerolog.Nop()})
	path := mediaFile(t)
	serve := transportFunc(func(ctx context.Context) error {
		_ = mb.Write(ctx, command.Open(path, false))
		<-ctx.Done()
		return nil
	})

	d := New(Options{
		Channel:    mb,
		Publisher:  pub,
		Controller: ctrl,
		Transport:  serve,
		Signals:    []os.Signal{syscall.SIGUSR1},
		Logger:     zerolog.Nop(),
	})
	if err := d.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the signal")
	}

	handles := fake.Handles()
	if len(handles) != 1 || handles[0].Terminations() != 1 || fake.Live() != 0 {
		t.Fatalf("handles=%d live=%d", len(handles), fake.Live())
	}
	if ctrl.KillRequested() {
		t.Fatal("a signal is not a kill")
	}
	st, _ := store.Load(ctx)
	if st.Running || st.Loaded || st.Paused {
		t.Fatalf("expected stopped status, got %+v", st)
	}
}

func TestShutdownPublishesBeforeTransportStops(t *testing.T) {
	pub, store := newPublisher(t, false)
	mb := command.NewMailbox()

	var (
		mu       sync.Mutex
		order    []string
		atStop   status.Status
		lastLine string
	)
	serve := transportFunc(func(ctx context.Context) error {
		<-ctx.Done()
		st, _ := store.Load(context.Background())
		replies := mb.Replies()
		mu.Lock()
		atStop = st
		lastLine = replies[len(replies)-1]
		order = append(order, "transport")
		mu.Unlock()
		return nil
	})
	ctrl := &stubController{run: func(context.Context) error { return nil }}
	d := New(Options{Channel: mb, Publisher: pub, Controller: ctrl, Transport: serve, Logger: zerolog.Nop()})
	d.RegisterShutdownHook("backend", func(context.Context) error {
		mu.Lock()
		order = append(order, "backend")
		mu.Unlock()
		return nil
	})

	if err := d.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if atStop.Running {
		t.Fatalf("transport stopped while status was %+v", atStop)
	}
	if lastLine != MsgStopped {
		t.Fatalf("transport stopped before the journal line, last was %q", lastLine)
	}
	if strings.Join(order, ",") != "transport,backend" {
		t.Fatalf("shutdown ran as %v", order)
	}
}

func TestTransportFailureStopsDaemon(t *testing.T) {
	pub, _ := newPublisher(t, false)
	mb := command.NewMailbox()
	ctrl := &stubController{}
	boom := errors.New("address in use")
	d := New(Options{
		Channel:    mb,
		Publisher:  pub,
		Controller: ctrl,
		Transport:  transportFunc(func(context.Context) error { return boom }),
		Logger:     zerolog.Nop(),
	})

	err := d.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if ctrl.closes != 1 {
		t.Fatalf("controller closed %d times", ctrl.closes)
	}
}

func TestShutdownHookErrorsAreJoined(t *testing.T) {
	pub, _ := newPublisher(t, false)
	d := New(Options{Channel: command.NewMailbox(), Publisher: pub, Controller: &stubController{}, Logger: zerolog.Nop()})
	boom := errors.New("close failed")
	d.RegisterShutdownHook("history", func(context.Context) error { return boom })

	err := d.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
	if again := d.Shutdown(context.Background()); again != err {
		t.Fatalf("second shutdown returned %v", again)
	}
}
