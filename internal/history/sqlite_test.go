package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hallgrove/iohub/internal/controller"
	"github.com/hallgrove/iohub/internal/protocol"
)

// setupHistoryTestDB creates an in-memory SQLite database with the event_history table.
func setupHistoryTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE event_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_event_history_device ON event_history(device_id, created_at DESC);
		CREATE INDEX idx_event_history_time ON event_history(created_at DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func testEvent(device string, rev uint64, at time.Time) controller.StateChangeEvent {
	return controller.StateChangeEvent{
		Device:   protocol.DeviceID("USB-" + device),
		Type:     controller.EventDigitalInput,
		Pin:      5,
		Bool:     true,
		Revision: rev,
		At:       at,
	}
}

func TestRecord(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	event := testEvent("24714", 3, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := repo.Record(ctx, event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "USB-24714", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if entry.DeviceID != "USB-24714" {
		t.Errorf("DeviceID = %q, want %q", entry.DeviceID, "USB-24714")
	}
	if entry.Event.Type != controller.EventDigitalInput {
		t.Errorf("Event.Type = %q, want %q", entry.Event.Type, controller.EventDigitalInput)
	}
	if entry.Event.Pin != 5 || !entry.Event.Bool {
		t.Errorf("Event = %+v, want pin 5 true", entry.Event)
	}
	if entry.Event.Revision != 3 {
		t.Errorf("Event.Revision = %d, want 3", entry.Event.Revision)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
}

func TestRecord_MissingDevice(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)

	err := repo.Record(context.Background(), controller.StateChangeEvent{Type: controller.EventStatus})
	if err == nil {
		t.Fatal("Record() should reject an event without a device id")
	}
}

func TestRecord_ZeroTimestamp(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	event := testEvent("1", 1, time.Time{})
	if err := repo.Record(ctx, event); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "USB-1", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if time.Since(entries[0].CreatedAt) > time.Minute {
		t.Errorf("CreatedAt = %v, want close to now", entries[0].CreatedAt)
	}
}

func TestGetHistory_Ordering(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := testEvent("order", uint64(i+1), base.Add(time.Duration(i)*time.Minute))
		if err := repo.Record(ctx, event); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	entries, err := repo.GetHistory(ctx, "USB-order", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries length = %d, want 3", len(entries))
	}

	// Newest first
	for i := 0; i < len(entries)-1; i++ {
		if entries[i].CreatedAt.Before(entries[i+1].CreatedAt) {
			t.Errorf("entries not ordered newest first: %v before %v",
				entries[i].CreatedAt, entries[i+1].CreatedAt)
		}
	}
	if entries[0].Event.Revision != 3 {
		t.Errorf("first entry revision = %d, want 3", entries[0].Event.Revision)
	}
}

func TestGetHistory_LimitClamping(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		event := testEvent("clamp", uint64(i+1), base.Add(time.Duration(i)*time.Second))
		if err := repo.Record(ctx, event); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	t.Run("zero limit uses default", func(t *testing.T) {
		entries, err := repo.GetHistory(ctx, "USB-clamp", 0)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(entries) != defaultHistoryLimit {
			t.Errorf("entries length = %d, want %d", len(entries), defaultHistoryLimit)
		}
	})

	t.Run("negative limit uses default", func(t *testing.T) {
		entries, err := repo.GetHistory(ctx, "USB-clamp", -5)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(entries) != defaultHistoryLimit {
			t.Errorf("entries length = %d, want %d", len(entries), defaultHistoryLimit)
		}
	})

	t.Run("oversized limit is clamped", func(t *testing.T) {
		entries, err := repo.GetHistory(ctx, "USB-clamp", 10000)
		if err != nil {
			t.Fatalf("GetHistory() error = %v", err)
		}
		if len(entries) != 60 {
			t.Errorf("entries length = %d, want 60", len(entries))
		}
	})
}

func TestGetHistory_MissingDevice(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)

	if _, err := repo.GetHistory(context.Background(), "", 10); err == nil {
		t.Fatal("GetHistory() should reject an empty device id")
	}
}

func TestGetHistory_UnknownDevice(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)

	entries, err := repo.GetHistory(context.Background(), "USB-unknown", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries length = %d, want 0", len(entries))
	}
}

func TestGetHistory_DeviceIsolation(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Record(ctx, testEvent("a", 1, at)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, testEvent("b", 1, at)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "USB-a", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if entries[0].DeviceID != "USB-a" {
		t.Errorf("DeviceID = %q, want %q", entries[0].DeviceID, "USB-a")
	}
}

func TestPrune(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-1 * time.Hour)

	if err := repo.Record(ctx, testEvent("prune", 1, old)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := repo.Record(ctx, testEvent("prune", 2, recent)); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	deleted, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Prune() deleted = %d, want 1", deleted)
	}

	entries, err := repo.GetHistory(ctx, "USB-prune", 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}
	if entries[0].Event.Revision != 2 {
		t.Errorf("remaining revision = %d, want 2", entries[0].Event.Revision)
	}
}

func TestPrune_InvalidDuration(t *testing.T) {
	db := setupHistoryTestDB(t)
	repo := NewSQLiteRepository(db)

	if _, err := repo.Prune(context.Background(), 0); err == nil {
		t.Fatal("Prune() should reject a non-positive duration")
	}
}
