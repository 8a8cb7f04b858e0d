// Package protocol defines the contract between the iohub core and the
// device wire-protocol layer.
//
// The core never speaks a wire protocol itself. It drives devices through
// the Conn interface, acquires connections through a Connector, and finds
// devices through a Discoverer. Implementations live outside the core:
// hardware transports are supplied by the embedding application, a
// simulated implementation ships in protocol/sim, and mDNS network
// discovery ships in protocol/mdns.
//
// # Key Types
//
//   - DeviceID: opaque stable identifier for one physical device
//   - DeviceState: full immutable snapshot of observable device state
//   - DeviceModel: capability metadata fetched once at connect time
//   - Conn: exclusive, stateful handle to one connected device
//   - Connector: acquires a Conn for a DeviceID
//   - Discoverer: enumerates reachable devices over USB or the network
//
// # Ownership
//
// A Conn must only ever be driven from a single goroutine. The core
// enforces this by moving each Conn into its device worker at start time;
// implementations may therefore be written without internal locking.
package protocol
