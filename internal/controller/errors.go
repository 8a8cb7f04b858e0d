package controller

import (
	"errors"
	"fmt"

	"github.com/hallgrove/iohub/internal/protocol"
)

var (
	// ErrNotFound is returned when no thread exists for the device.
	ErrNotFound = errors.New("controller: device thread not found")

	// ErrAlreadyRunning is returned when a thread for the device already
	// exists, including one still connecting.
	ErrAlreadyRunning = errors.New("controller: device thread already running")

	// ErrStarting is returned when the thread exists but is still
	// connecting and cannot serve the request yet.
	ErrStarting = errors.New("controller: device thread still starting")

	// ErrConnectFailed is returned when the device connection could not
	// be established.
	ErrConnectFailed = errors.New("controller: device connect failed")

	// ErrTimeout is returned when a dispatched command was not accepted
	// or answered within the dispatch timeout.
	ErrTimeout = errors.New("controller: command timed out")

	// ErrStopTimeout is returned when a thread did not stop within the
	// stop timeout. The worker keeps winding down in the background.
	ErrStopTimeout = errors.New("controller: device thread did not stop in time")

	// ErrStopped is returned when a command raced a thread shutdown.
	ErrStopped = errors.New("controller: device thread stopped")

	// ErrUnsupportedOperation is returned when the device model lacks the
	// capability, pin, channel or encoder the operation needs.
	ErrUnsupportedOperation = errors.New("controller: operation not supported by device")

	// ErrClosed is returned after the controller has been shut down.
	ErrClosed = errors.New("controller: closed")
)

// OperationError reports a device operation that reached the worker and
// failed there. It wraps the underlying protocol error.
type OperationError struct {
	Device protocol.DeviceID
	Op     string
	Err    error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("controller: %s on device %s: %v", e.Op, e.Device, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
