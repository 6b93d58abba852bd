package redischan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/mpvremote/internal/command"
)

// setupMiniRedis creates a channel backed by a miniredis server.
func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *Channel) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ch := New(client, "test", zerolog.Nop())

	t.Cleanup(func() {
		_ = ch.Close()
		_ = client.Close()
		mr.Close()
	})
	return mr, client, ch
}

func TestRedisChannel_LatestWins(t *testing.T) {
	ctx := context.Background()
	mr, _, ch := setupMiniRedis(t)

	_ = ch.Write(ctx, command.Open("/tmp/one.mp4", false))
	_ = ch.Write(ctx, command.Stop())

	if got, _ := mr.Get("test:command"); got != "stop" {
		t.Fatalf("expected stored command to be overwritten, got %q", got)
	}

	cmd, err := ch.ReadLatest(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if cmd.Kind != command.KindStop {
		t.Fatalf("expected stop, got %+v", cmd)
	}
	if again, _ := ch.ReadLatest(ctx); !again.IsNone() {
		t.Fatalf("expected command consumed, got %+v", again)
	}
}

func TestRedisChannel_ReplyWait(t *testing.T) {
	ctx := context.Background()
	_, client, daemonSide := setupMiniRedis(t)
	clientSide := New(client, "test", zerolog.Nop())

	_ = daemonSide.Reply(ctx, "Running MPV remote player")
	if err := clientSide.SeekToEnd(ctx); err != nil {
		t.Fatalf("seek: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = daemonSide.Reply(ctx, "Stopped MPV remote player")
	}()

	line, err := clientSide.WaitForReplyWithin(ctx, time.Second)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if line != "Stopped MPV remote player" {
		t.Fatalf("unexpected reply %q", line)
	}

	if _, err := clientSide.WaitForReplyWithin(ctx, 80*time.Millisecond); !errors.Is(err, command.ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}
}

func TestRedisChannel_ReadySignal(t *testing.T) {
	ctx := context.Background()
	_, _, ch := setupMiniRedis(t)

	ready := ch.Ready()
	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := ch.Write(ctx, command.Kill()); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("expected readiness notification")
	}
}
