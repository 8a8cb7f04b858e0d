package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hallgrove/iohub/internal/controller"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteRepository implements Repository using SQLite.
//
// It stores events as JSON in the event_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite event history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new history entry for an event.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - event: Event to persist
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Record(ctx context.Context, event controller.StateChangeEvent) error {
	if event.Device == "" {
		return fmt.Errorf("device id is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	at := event.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO event_history (device_id, event_type, revision, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		string(event.Device),
		string(event.Type),
		int64(event.Revision),
		string(payload),
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event history: %w", err)
	}

	return nil
}

// GetHistory returns recent events for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Entry: History entries ordered by created_at DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, payload, created_at
		 FROM event_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying event history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var payload string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event history: %w", err)
		}

		if err := json.Unmarshal([]byte(payload), &entry.Event); err != nil {
			return nil, fmt.Errorf("unmarshalling event: %w", err)
		}

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event history: %w", err)
	}

	return entries, nil
}

// Prune deletes history entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM event_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting event history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
