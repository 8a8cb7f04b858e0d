// Package history provides an append-only log of device state change
// events backed by SQLite.
//
// Events produced by the controller are recorded as JSON rows in the
// event_history table, giving a local audit trail that survives broker
// or time-series outages. Retrieval is per-device, newest first, with
// clamped limits suitable for UI queries.
//
// # Usage
//
//	repo := history.NewSQLiteRepository(db.DB)
//	err := repo.Record(ctx, event)
//	entries, err := repo.GetHistory(ctx, "USB-24714", 50)
//
// Retention is enforced by calling Prune periodically with the
// configured retention window.
package history
