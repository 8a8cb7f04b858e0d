package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hallgrove/iohub/internal/protocol"
)

// Simulator errors.
var (
	ErrUnknownDevice = errors.New("sim: unknown device")
	ErrDeviceBusy    = errors.New("sim: device already connected")
)

// Default simulated hardware shape, matching a 55-pin IO board.
const (
	defaultPinCount     = 55
	defaultPWMChannels  = 6
	defaultEncoderCount = 26
)

// defaultModel returns the capability metadata of a simulated device.
func defaultModel() protocol.DeviceModel {
	return protocol.DeviceModel{
		Name:         "sim55",
		PinCount:     defaultPinCount,
		PWMChannels:  defaultPWMChannels,
		EncoderCount: defaultEncoderCount,
		Capabilities: []protocol.Capability{
			protocol.CapabilityDigitalIO,
			protocol.CapabilityAnalogInput,
			protocol.CapabilityAnalogOut,
			protocol.CapabilityPWM,
			protocol.CapabilityEncoders,
			protocol.CapabilityCounters,
			protocol.CapabilityRaw,
		},
	}
}

// Option customises a simulated device.
type Option func(*Device)

// WithModel overrides the device's capability metadata.
func WithModel(model protocol.DeviceModel) Option {
	return func(d *Device) {
		d.model = model
	}
}

// WithConnectError makes every Connect attempt for the device fail.
func WithConnectError(err error) Option {
	return func(d *Device) {
		d.connectErr = err
	}
}

// Connector hands out connections to simulated devices. It implements
// both protocol.Connector and protocol.Discoverer so a daemon can run a
// full IO stack without hardware attached.
type Connector struct {
	mu      sync.Mutex
	devices map[protocol.DeviceID]*Device
}

// NewConnector creates an empty simulated connector.
func NewConnector() *Connector {
	return &Connector{devices: make(map[protocol.DeviceID]*Device)}
}

// Add registers a simulated device and returns its handle. The handle
// stays valid across connect/disconnect cycles and is how tests and
// tooling drive inputs and inject faults.
func (c *Connector) Add(id protocol.DeviceID, opts ...Option) *Device {
	d := newDevice(id)
	for _, opt := range opts {
		opt(d)
	}
	d.reset()

	c.mu.Lock()
	c.devices[id] = d
	c.mu.Unlock()
	return d
}

// Device returns the handle for a registered device.
func (c *Connector) Device(id protocol.DeviceID) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[id]
	return d, ok
}

// Connect acquires the simulated device. A device can be held by at most
// one connection at a time; a second Connect fails with ErrDeviceBusy
// until the first connection is closed.
func (c *Connector) Connect(ctx context.Context, id protocol.DeviceID) (protocol.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	d, ok := c.devices[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	return d.connect()
}

// EnumerateUSB returns every registered simulated device.
func (c *Connector) EnumerateUSB(ctx context.Context) ([]protocol.DeviceID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]protocol.DeviceID, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	return ids, nil
}

// EnumerateNetwork returns every registered simulated device. Simulated
// devices answer instantly, so the timeout is not used.
func (c *Connector) EnumerateNetwork(ctx context.Context, _ time.Duration) ([]protocol.DeviceID, error) {
	return c.EnumerateUSB(ctx)
}
