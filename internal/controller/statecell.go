package controller

import (
	"sync/atomic"
	"time"

	"github.com/hallgrove/iohub/internal/protocol"
)

// Snapshot is one published view of a device. Snapshots are immutable:
// once published they are never modified, so readers may hold them
// indefinitely without copying.
type Snapshot struct {
	State    protocol.DeviceState
	Status   ThreadStatus
	Revision uint64
	TakenAt  time.Time
}

// stateCell publishes device snapshots from a single writer (the device
// worker) to any number of readers without locking. The revision counter
// is strictly monotonic; a reader comparing revisions can always tell
// which of two snapshots is newer.
type stateCell struct {
	cur atomic.Pointer[Snapshot]
	rev atomic.Uint64
}

func newStateCell(status ThreadStatus) *stateCell {
	c := &stateCell{}
	c.cur.Store(&Snapshot{
		Status:   status,
		Revision: c.rev.Add(1),
		TakenAt:  time.Now(),
	})
	return c
}

// Load returns the current snapshot. It never blocks.
func (c *stateCell) Load() Snapshot {
	return *c.cur.Load()
}

// Publish replaces the current snapshot with a new state under a fresh
// revision and returns what was published. Only the worker calls this.
func (c *stateCell) Publish(state protocol.DeviceState, status ThreadStatus) Snapshot {
	snap := &Snapshot{
		State:    state,
		Status:   status,
		Revision: c.rev.Add(1),
		TakenAt:  time.Now(),
	}
	c.cur.Store(snap)
	return *snap
}

// PublishStatus re-publishes the current state under a new status and a
// fresh revision.
func (c *stateCell) PublishStatus(status ThreadStatus) Snapshot {
	prev := c.cur.Load()
	snap := &Snapshot{
		State:    prev.State,
		Status:   status,
		Revision: c.rev.Add(1),
		TakenAt:  time.Now(),
	}
	c.cur.Store(snap)
	return *snap
}
