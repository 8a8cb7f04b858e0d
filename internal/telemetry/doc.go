// Package telemetry fans device state change events out to external
// sinks.
//
// A Pump consumes events from a controller observer subscription and
// delivers each one to up to three sinks:
//
//   - MQTT: every event is published as JSON on a per-device topic
//     (state, status or error, see the mqtt package topic scheme)
//   - InfluxDB: numeric events become time-series samples
//   - History: every event is appended to the local SQLite audit log
//
// Sinks are independent; a failure in one is logged and does not affect
// the others or stop the pump. All sinks are optional.
//
// The package also carries the inbound direction: a CommandListener
// subscribes to the command topic tree and turns messages from other
// MQTT services into controller output writes.
package telemetry
