package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
)

// MigrationsFS is set by the migrations package at init time so the SQL
// files ship inside the binary. Left unset, Migrate is a no-op.
var MigrationsFS embed.FS

// MigrationsDir is the directory inside MigrationsFS holding the .sql
// files. "." when the files sit at the root of the embedded filesystem.
var MigrationsDir = "migrations"

// migrationFile matches names like 20260801_120000_event_history.up.sql:
// a datetime version, a name, and an up or down direction.
var migrationFile = regexp.MustCompile(`^(\d{8}_\d{6})_(.+)\.(up|down)\.sql$`)

// migration pairs the up and down scripts for one schema version.
type migration struct {
	version string
	name    string
	up      string
	down    string
}

// Migrate applies all pending migrations in version order. Each runs in
// its own transaction, so a failure leaves earlier migrations applied
// and the failing one rolled back. Safe to call on every startup.
func (db *DB) Migrate(ctx context.Context) error {
	migs, err := loadMigrations(MigrationsFS, MigrationsDir)
	if err != nil {
		return err
	}
	if len(migs) == 0 {
		return nil
	}

	if err := db.ensureVersionTable(ctx); err != nil {
		return err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range migs {
		if applied[m.version] {
			continue
		}
		if err := db.apply(ctx, m); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
		}
	}
	return nil
}

// MigrateDown reverts the most recently applied migration. Intended for
// development; production rollbacks go through a fresh deploy.
func (db *DB) MigrateDown(ctx context.Context) error {
	migs, err := loadMigrations(MigrationsFS, MigrationsDir)
	if err != nil {
		return err
	}
	if err := db.ensureVersionTable(ctx); err != nil {
		return err
	}

	var version string
	err = db.QueryRowContext(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("no migrations to revert")
	}
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}

	for _, m := range migs {
		if m.version != version {
			continue
		}
		if m.down == "" {
			return fmt.Errorf("migration %s_%s has no down script", m.version, m.name)
		}
		if err := db.revert(ctx, m); err != nil {
			return fmt.Errorf("reverting %s_%s: %w", m.version, m.name, err)
		}
		return nil
	}
	return fmt.Errorf("applied migration %s not found in embedded files", version)
}

func (db *DB) ensureVersionTable(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}
	return nil
}

func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration version: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs one up script and records the version, atomically.
func (db *DB) apply(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		m.version, m.name,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// revert runs one down script and forgets the version, atomically.
func (db *DB) revert(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, m.down); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", m.version,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// loadMigrations reads the embedded directory and pairs up/down scripts
// by version, sorted ascending. An unset MigrationsFS yields no
// migrations. Files not matching the naming pattern are an error; a
// typo would otherwise silently skip a migration.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		groups := migrationFile.FindStringSubmatch(entry.Name())
		if groups == nil {
			return nil, fmt.Errorf("migration file %q does not match <version>_<name>.(up|down).sql", entry.Name())
		}
		version, name, direction := groups[1], groups[2], groups[3]

		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.up = string(body)
		} else {
			m.down = string(body)
		}
	}

	migs := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" {
			return nil, fmt.Errorf("migration %s_%s has a down script but no up script", m.version, m.name)
		}
		migs = append(migs, *m)
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}
