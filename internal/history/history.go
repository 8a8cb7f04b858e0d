package history

import (
	"context"
	"time"

	"github.com/hallgrove/iohub/internal/controller"
)

// Entry represents a single recorded state change event.
//
// Each entry stores the full event as JSON alongside the columns used
// for querying. This provides a local audit trail even when the
// time-series database is unavailable.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the unique identifier of the device.
	DeviceID string `json:"device_id"`

	// Event is the recorded state change event.
	Event controller.StateChangeEvent `json:"event"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves device state change events.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record appends a state change event to the history log.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - event: Event to persist
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Record(ctx context.Context, event controller.StateChangeEvent) error

	// GetHistory returns recent events for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Entry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error)
}
