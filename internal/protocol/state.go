package protocol

// PinFunction identifies what a pin is configured to do.
type PinFunction string

const (
	PinFunctionInactive      PinFunction = "inactive"
	PinFunctionDigitalInput  PinFunction = "digital_input"
	PinFunctionDigitalOutput PinFunction = "digital_output"
	PinFunctionAnalogInput   PinFunction = "analog_input"
	PinFunctionAnalogOutput  PinFunction = "analog_output"
	PinFunctionCounter       PinFunction = "counter"
)

// PinState holds the observable values of a single pin.
type PinState struct {
	// Function is the configured pin function.
	Function PinFunction

	// DigitalIn is the last read digital input level.
	DigitalIn bool

	// DigitalOut is the last commanded digital output level.
	DigitalOut bool

	// AnalogIn is the last read analog input value (12-bit).
	AnalogIn uint32

	// AnalogOut is the last commanded analog output value (12-bit).
	AnalogOut uint32

	// Counter is the digital counter value for counter-capable pins.
	Counter uint32
}

// PWMState holds the PWM configuration of a device.
type PWMState struct {
	// Period is the shared PWM period in device ticks.
	Period uint32

	// Duty holds the duty cycle per channel (12-bit values).
	Duty []uint32
}

// DeviceState is a full snapshot of a device's observable state.
//
// A DeviceState is a value: once constructed it is never mutated. Producers
// build a new one per refresh; Clone gives consumers an independent copy
// when they need to hold one across publisher updates.
//
// Pins are addressed 1-based throughout (pin 1 is Pins[0]), matching how
// the devices themselves number pins.
type DeviceState struct {
	Info     DeviceInfo
	Pins     []PinState
	Encoders []int32
	PWM      PWMState
}

// Clone returns a deep copy sharing no slices with the receiver.
func (s DeviceState) Clone() DeviceState {
	out := s
	out.Pins = append([]PinState(nil), s.Pins...)
	out.Encoders = append([]int32(nil), s.Encoders...)
	out.PWM.Duty = append([]uint32(nil), s.PWM.Duty...)
	return out
}

// DigitalInput returns the digital input level of a pin, or false, false
// if the pin number is out of range.
func (s DeviceState) DigitalInput(pin int) (bool, bool) {
	if pin < 1 || pin > len(s.Pins) {
		return false, false
	}
	return s.Pins[pin-1].DigitalIn, true
}

// DigitalOutput returns the commanded digital output level of a pin.
func (s DeviceState) DigitalOutput(pin int) (bool, bool) {
	if pin < 1 || pin > len(s.Pins) {
		return false, false
	}
	return s.Pins[pin-1].DigitalOut, true
}

// AnalogInput returns the analog input value of a pin.
func (s DeviceState) AnalogInput(pin int) (uint32, bool) {
	if pin < 1 || pin > len(s.Pins) {
		return 0, false
	}
	return s.Pins[pin-1].AnalogIn, true
}

// AnalogOutput returns the commanded analog output value of a pin.
func (s DeviceState) AnalogOutput(pin int) (uint32, bool) {
	if pin < 1 || pin > len(s.Pins) {
		return 0, false
	}
	return s.Pins[pin-1].AnalogOut, true
}

// EncoderValue returns the count of one encoder.
func (s DeviceState) EncoderValue(index int) (int32, bool) {
	if index < 0 || index >= len(s.Encoders) {
		return 0, false
	}
	return s.Encoders[index], true
}

// PWMDuty returns the duty cycle of one PWM channel.
func (s DeviceState) PWMDuty(channel int) (uint32, bool) {
	if channel < 0 || channel >= len(s.PWM.Duty) {
		return 0, false
	}
	return s.PWM.Duty[channel], true
}
