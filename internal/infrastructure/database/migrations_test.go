package database

import (
	"context"
	"embed"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useTestMigrations points the package at the testdata fixtures for the
// duration of one test.
func useTestMigrations(t *testing.T) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = testMigrationsFS
	MigrationsDir = "testdata"
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestMigrate(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := testContext(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Both fixtures applied: the state_changes table and its device index.
	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='state_changes'",
	).Scan(&tableName)
	if err != nil {
		t.Fatalf("state_changes table not created: %v", err)
	}

	var indexName string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_state_changes_device'",
	).Scan(&indexName)
	if err != nil {
		t.Fatalf("device index not created: %v", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations",
	).Scan(&applied); err != nil {
		t.Fatalf("reading schema_migrations: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied migrations = %d, want 2", applied)
	}
}

func TestMigrate_SchemaAcceptsStateChangeRows(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := testContext(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO state_changes (device_id, field, field_index, value, revision)
		 VALUES (?, ?, ?, ?, ?)`,
		"USB-24714", "digital_input", 5, "true", 17,
	)
	if err != nil {
		t.Fatalf("inserting state change row: %v", err)
	}

	var device string
	var revision int64
	err = db.QueryRowContext(ctx,
		"SELECT device_id, revision FROM state_changes WHERE field = ? AND field_index = ?",
		"digital_input", 5,
	).Scan(&device, &revision)
	if err != nil {
		t.Fatalf("reading state change row: %v", err)
	}
	if device != "USB-24714" || revision != 17 {
		t.Errorf("row = (%s, %d), want (USB-24714, 17)", device, revision)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := testContext(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations",
	).Scan(&applied); err != nil {
		t.Fatalf("reading schema_migrations: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied migrations after rerun = %d, want 2", applied)
	}
}

func TestMigrateDown_RevertsNewestOnly(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)
	ctx := testContext(t)

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	// The index migration is reverted, the table migration stays.
	var indexName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_state_changes_device'",
	).Scan(&indexName)
	if err == nil {
		t.Error("device index still present after MigrateDown()")
	}

	var tableName string
	err = db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='state_changes'",
	).Scan(&tableName)
	if err != nil {
		t.Errorf("state_changes table should survive a single MigrateDown(): %v", err)
	}
}

func TestMigrateDown_NothingApplied(t *testing.T) {
	useTestMigrations(t)
	db := openTestDB(t)

	if err := db.MigrateDown(testContext(t)); err == nil {
		t.Error("MigrateDown() on a fresh database should fail")
	}
}

func TestMigrate_NoEmbeddedFiles(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS = origFS
		MigrationsDir = origDir
	})
	MigrationsFS = embed.FS{}
	MigrationsDir = "migrations"

	db := openTestDB(t)
	if err := db.Migrate(testContext(t)); err != nil {
		t.Errorf("Migrate() with no embedded files should be a no-op, got %v", err)
	}
}

func TestLoadMigrations(t *testing.T) {
	migs, err := loadMigrations(testMigrationsFS, "testdata")
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migs))
	}

	first, second := migs[0], migs[1]
	if first.version != "20260801_100000" || first.name != "state_changes" {
		t.Errorf("first migration = %s_%s", first.version, first.name)
	}
	if second.version != "20260802_090000" || second.name != "state_changes_device_index" {
		t.Errorf("second migration = %s_%s", second.version, second.name)
	}
	for _, m := range migs {
		if m.up == "" || m.down == "" {
			t.Errorf("migration %s missing a script: up=%d down=%d bytes",
				m.version, len(m.up), len(m.down))
		}
	}
}

func TestMigrationFilePattern(t *testing.T) {
	tests := []struct {
		filename string
		matches  bool
	}{
		{"20260801_100000_state_changes.up.sql", true},
		{"20260801_100000_state_changes.down.sql", true},
		{"20260802_090000_state_changes_device_index.up.sql", true},
		{"20260801_100000_state_changes.sql", false},
		{"state_changes.up.sql", false},
		{"2026_state_changes.up.sql", false},
		{"20260801_100000_.up.sql", false},
		{"README.md", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := migrationFile.MatchString(tt.filename); got != tt.matches {
				t.Errorf("match(%q) = %v, want %v", tt.filename, got, tt.matches)
			}
		})
	}
}
