// Package controller runs one worker goroutine per hardware device and
// exposes a thread-safe surface for commanding devices and observing their
// state.
//
// Each started device gets a dedicated worker that exclusively owns the
// device connection. Callers never touch a connection directly: commands
// travel over a per-device channel and are answered through reply slots,
// while periodic refreshes keep a lock-free state snapshot current. State
// changes are diffed field by field and fanned out to registered observers
// over bounded channels that never block the worker.
//
// A device failing, stalling or erroring never affects other devices and
// never blocks a caller longer than the configured timeouts.
package controller
