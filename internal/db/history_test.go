package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/mpvremote/internal/config"
	"github.com/friendsincode/mpvremote/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	cfg := &config.Config{
		HistoryBackend: config.HistorySQLite,
		HistoryDSN:     filepath.Join(t.TempDir(), "nested", "history.db"),
	}
	database, err := Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = Close(database) })
	if err := RegisterCallbacks(database); err != nil {
		t.Fatalf("callbacks: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestHistoryStoreRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(openTestDB(t))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	recs := []models.SessionRecord{
		{ID: "a", URL: "/a.mkv", MediaType: "local", StartedAt: base, EndedAt: base.Add(time.Minute), Outcome: models.OutcomeFinished},
		{ID: "b", URL: "http://x/b", MediaType: "http", StartedAt: base.Add(time.Hour), EndedAt: base.Add(2 * time.Hour), Outcome: models.OutcomeStopped},
		{ID: "c", URL: "/c.mkv", MediaType: "local", StartedAt: base.Add(2 * time.Hour), EndedAt: base.Add(2*time.Hour + 5*time.Second), Outcome: models.OutcomeLoadTimeout, ErrorCode: 1, ErrorMessage: "Error loading media `/c.mkv`"},
	}
	for i := range recs {
		if err := store.Record(ctx, &recs[i]); err != nil {
			t.Fatalf("record %s: %v", recs[i].ID, err)
		}
	}

	got, err := store.Recent(ctx, 2, "")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("expected newest first [c b], got %+v", got)
	}

	stopped, err := store.Recent(ctx, 10, models.OutcomeStopped)
	if err != nil || len(stopped) != 1 || stopped[0].ID != "b" {
		t.Fatalf("outcome filter: %+v, %v", stopped, err)
	}

	one, err := store.Get(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if one.ErrorCode != 1 || one.Duration() != 5*time.Second {
		t.Fatalf("unexpected record %+v", one)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	if err := store.Record(ctx, &models.SessionRecord{ID: "a", StartedAt: base}); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestConnectRejectsUnknownBackend(t *testing.T) {
	if _, err := Connect(&config.Config{HistoryBackend: config.HistoryNone}); err == nil {
		t.Fatal("expected error for history backend none")
	}
}

func TestHistoryStorePrune(t *testing.T) {
	ctx := context.Background()
	store := NewHistoryStore(openTestDB(t))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "edge", "new"} {
		ended := base.Add(time.Duration(i) * 24 * time.Hour)
		rec := models.SessionRecord{ID: id, StartedAt: ended.Add(-time.Minute), EndedAt: ended, Outcome: models.OutcomeFinished}
		if err := store.Record(ctx, &rec); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.Prune(ctx, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned row, got %d", n)
	}
	left, _ := store.Recent(ctx, 10, "")
	if len(left) != 2 || left[0].ID != "new" || left[1].ID != "edge" {
		t.Fatalf("unexpected remaining rows %+v", left)
	}
}
