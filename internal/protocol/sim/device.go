package sim

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/hallgrove/iohub/internal/protocol"
)

// Device is one simulated IO board. It implements protocol.Conn.
//
// Unlike hardware connections, a Device is safe for concurrent use: the
// worker goroutine owns the Conn side while tests and tooling drive
// inputs through SetInput, SetAnalogInput, StepEncoder and the fault
// injection setters.
type Device struct {
	mu sync.Mutex

	id         protocol.DeviceID
	model      protocol.DeviceModel
	connectErr error

	connected bool
	closed    bool

	pins     []protocol.PinState
	encoders []int32
	pwm      protocol.PWMState

	readErr  error
	writeErr error
}

func newDevice(id protocol.DeviceID) *Device {
	return &Device{
		id:    id,
		model: defaultModel(),
	}
}

// reset sizes the state to the model. Pin functions default to digital
// input so a freshly added device produces a plausible full state.
func (d *Device) reset() {
	d.pins = make([]protocol.PinState, d.model.PinCount)
	for i := range d.pins {
		d.pins[i].Function = protocol.PinFunctionDigitalInput
	}
	d.encoders = make([]int32, d.model.EncoderCount)
	d.pwm = protocol.PWMState{
		Period: 4095,
		Duty:   make([]uint32, d.model.PWMChannels),
	}
}

func (d *Device) connect() (protocol.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connectErr != nil {
		return nil, d.connectErr
	}
	if d.connected {
		return nil, ErrDeviceBusy
	}
	d.connected = true
	d.closed = false
	return d, nil
}

// serialNumber derives a stable fake serial from the device ID.
func (d *Device) serialNumber() uint32 {
	h := fnv.New32a()
	h.Write([]byte(d.id)) //nolint:errcheck // hash.Write never fails
	return h.Sum32()
}

// =============================================================================
// Fault injection and input control
// =============================================================================

// SetReadError makes every subsequent read operation fail with err.
// Pass nil to clear.
func (d *Device) SetReadError(err error) {
	d.mu.Lock()
	d.readErr = err
	d.mu.Unlock()
}

// SetWriteError makes every subsequent write operation fail with err.
// Pass nil to clear.
func (d *Device) SetWriteError(err error) {
	d.mu.Lock()
	d.writeErr = err
	d.mu.Unlock()
}

// SetInput drives a digital input pin (1-based).
func (d *Device) SetInput(pin int, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pin >= 1 && pin <= len(d.pins) {
		d.pins[pin-1].DigitalIn = on
	}
}

// SetAnalogInput drives an analog input pin (1-based).
func (d *Device) SetAnalogInput(pin int, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pin >= 1 && pin <= len(d.pins) {
		d.pins[pin-1].AnalogIn = value
	}
}

// StepEncoder advances an encoder count by delta.
func (d *Device) StepEncoder(index int, delta int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index >= 0 && index < len(d.encoders) {
		d.encoders[index] += delta
	}
}

// IsConnected reports whether a connection currently holds the device.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// =============================================================================
// protocol.Conn implementation
// =============================================================================

// Info returns the identity of the simulated device.
func (d *Device) Info() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		ID:              d.id,
		Transport:       protocol.TransportUSB,
		SerialNumber:    d.serialNumber(),
		FirmwareVersion: "sim-1.0",
	}
}

// Model returns the capability metadata of the simulated device.
func (d *Device) Model() protocol.DeviceModel {
	return d.model
}

func (d *Device) ReadFullState(ctx context.Context) (protocol.DeviceState, error) {
	if err := ctx.Err(); err != nil {
		return protocol.DeviceState{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.DeviceState{}, protocol.ErrClosed
	}
	if d.readErr != nil {
		return protocol.DeviceState{}, d.readErr
	}

	state := protocol.DeviceState{
		Info:     d.Info(),
		Pins:     d.pins,
		Encoders: d.encoders,
		PWM:      d.pwm,
	}
	return state.Clone(), nil
}

func (d *Device) ReadDigital(ctx context.Context, pin int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false, protocol.ErrClosed
	}
	if d.readErr != nil {
		return false, d.readErr
	}
	if !d.model.ValidPin(pin) {
		return false, protocol.ErrInvalidPin
	}
	return d.pins[pin-1].DigitalIn, nil
}

func (d *Device) WriteDigital(ctx context.Context, pin int, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.model.ValidPin(pin) {
		return protocol.ErrInvalidPin
	}
	d.pins[pin-1].DigitalOut = on
	return nil
}

func (d *Device) ReadAnalog(ctx context.Context, pin int) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, protocol.ErrClosed
	}
	if d.readErr != nil {
		return 0, d.readErr
	}
	if !d.model.ValidPin(pin) {
		return 0, protocol.ErrInvalidPin
	}
	return d.pins[pin-1].AnalogIn, nil
}

func (d *Device) WriteAnalog(ctx context.Context, pin int, value uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.model.ValidPin(pin) {
		return protocol.ErrInvalidPin
	}
	d.pins[pin-1].AnalogOut = value
	return nil
}

func (d *Device) SetPWM(ctx context.Context, channel int, duty uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.model.ValidPWMChannel(channel) {
		return protocol.ErrInvalidChannel
	}
	d.pwm.Duty[channel] = duty
	return nil
}

func (d *Device) ReadEncoder(ctx context.Context, index int) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, protocol.ErrClosed
	}
	if d.readErr != nil {
		return 0, d.readErr
	}
	if !d.model.ValidEncoder(index) {
		return 0, protocol.ErrInvalidEncoder
	}
	return d.encoders[index], nil
}

func (d *Device) ConfigureEncoder(ctx context.Context, cfg protocol.EncoderConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.model.ValidEncoder(cfg.Index) {
		return protocol.ErrInvalidEncoder
	}
	if !cfg.Enabled {
		d.encoders[cfg.Index] = 0
	}
	return nil
}

func (d *Device) ResetCounter(ctx context.Context, pin int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return protocol.ErrClosed
	}
	if d.writeErr != nil {
		return d.writeErr
	}
	if !d.model.ValidPin(pin) {
		return protocol.ErrInvalidPin
	}
	d.pins[pin-1].Counter = 0
	return nil
}

// Raw echoes the request back: one byte of type followed by the params.
func (d *Device) Raw(ctx context.Context, req protocol.RawRequest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, protocol.ErrClosed
	}
	if d.readErr != nil {
		return nil, d.readErr
	}
	resp := make([]byte, 0, 1+len(req.Params))
	resp = append(resp, req.Type)
	resp = append(resp, req.Params[:]...)
	return resp, nil
}

// Close releases the device so it can be connected again. Outputs keep
// their last commanded values across reconnects.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.closed = true
	return nil
}
