package protocol

import (
	"context"
	"time"
)

// DeviceID is an opaque, stable identifier for one physical device.
// For USB devices this is typically the serial number (e.g. "USB-24714");
// for network devices the advertised instance name or address.
type DeviceID string

// Transport identifies how a device is reached.
type Transport string

const (
	TransportUSB     Transport = "usb"
	TransportNetwork Transport = "network"
)

// DeviceInfo describes the identity of a connected device.
type DeviceInfo struct {
	// ID is the stable device identifier.
	ID DeviceID

	// Transport is how the device is reached.
	Transport Transport

	// SerialNumber is the hardware serial number.
	SerialNumber uint32

	// FirmwareVersion is the reported firmware revision string.
	FirmwareVersion string

	// Address is the network address for network devices, empty for USB.
	Address string
}

// EncoderConfig configures one quadrature encoder.
type EncoderConfig struct {
	// Index is the encoder slot to configure.
	Index int

	// PinA and PinB are the 1-based input pins for the two channels.
	PinA int
	PinB int

	// Enabled turns the encoder on or off.
	Enabled bool

	// Sampling4x enables 4x quadrature sampling.
	Sampling4x bool
}

// RawRequest is a low-level passthrough request for operations the typed
// surface does not cover.
type RawRequest struct {
	Type   byte
	Params [4]byte
}

// Conn is an exclusive handle to one connected device.
//
// All operations are synchronous and fallible. A Conn is stateful and not
// safe for concurrent use; the caller must serialise access (the iohub core
// does this by giving each Conn to exactly one worker goroutine).
type Conn interface {
	// Info returns the identity of the connected device.
	Info() DeviceInfo

	// Model returns the capability metadata fetched at connect time.
	Model() DeviceModel

	// ReadFullState reads every observable value from the device and
	// returns a fresh DeviceState.
	ReadFullState(ctx context.Context) (DeviceState, error)

	// ReadDigital reads a single digital input pin (1-based).
	ReadDigital(ctx context.Context, pin int) (bool, error)

	// WriteDigital sets a single digital output pin (1-based).
	WriteDigital(ctx context.Context, pin int, on bool) error

	// ReadAnalog reads a single analog input pin (1-based, 12-bit value).
	ReadAnalog(ctx context.Context, pin int) (uint32, error)

	// WriteAnalog sets a single analog output pin (1-based, 12-bit value).
	WriteAnalog(ctx context.Context, pin int, value uint32) error

	// SetPWM sets the duty cycle for a PWM channel (12-bit value).
	SetPWM(ctx context.Context, channel int, duty uint32) error

	// ReadEncoder reads the current count of one encoder.
	ReadEncoder(ctx context.Context, index int) (int32, error)

	// ConfigureEncoder applies an encoder configuration.
	ConfigureEncoder(ctx context.Context, cfg EncoderConfig) error

	// ResetCounter zeroes the digital counter on a pin (1-based).
	ResetCounter(ctx context.Context, pin int) error

	// Raw sends a passthrough request and returns the raw response.
	Raw(ctx context.Context, req RawRequest) ([]byte, error)

	// Close releases the underlying channel. After Close, all other
	// methods return ErrClosed.
	Close() error
}

// Connector acquires device connections. Connect must fail rather than
// return a Conn already owned elsewhere; the core relies on a successful
// Connect meaning exclusive ownership.
type Connector interface {
	Connect(ctx context.Context, id DeviceID) (Conn, error)
}

// Discoverer enumerates reachable devices.
//
// Both methods are independently safe to call repeatedly. EnumerateNetwork
// is time-bounded: it returns whatever responded within the timeout and
// never blocks past it.
type Discoverer interface {
	EnumerateUSB(ctx context.Context) ([]DeviceID, error)
	EnumerateNetwork(ctx context.Context, timeout time.Duration) ([]DeviceID, error)
}
