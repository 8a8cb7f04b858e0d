package protocol

// Capability is a discrete feature a device model supports.
type Capability string

const (
	CapabilityDigitalIO   Capability = "digital_io"
	CapabilityAnalogInput Capability = "analog_input"
	CapabilityAnalogOut   Capability = "analog_output"
	CapabilityPWM         Capability = "pwm"
	CapabilityEncoders    Capability = "encoders"
	CapabilityCounters    Capability = "counters"
	CapabilityRaw         Capability = "raw"
)

// DeviceModel describes what a connected device can do. It is fetched once
// at connect time and treated as immutable afterwards; the dispatch layer
// consults it to reject unsupported operations before they reach the device.
type DeviceModel struct {
	// Name is the human-readable model name (e.g. "PoKeys57E").
	Name string

	// PinCount is the number of IO pins, addressed 1..PinCount.
	PinCount int

	// PWMChannels is the number of PWM channels, addressed 0..PWMChannels-1.
	PWMChannels int

	// EncoderCount is the number of encoder slots, addressed 0..EncoderCount-1.
	EncoderCount int

	// Capabilities lists the features this model supports.
	Capabilities []Capability
}

// Has reports whether the model supports a capability.
func (m DeviceModel) Has(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// ValidPin reports whether pin is a valid 1-based pin number for this model.
func (m DeviceModel) ValidPin(pin int) bool {
	return pin >= 1 && pin <= m.PinCount
}

// ValidPWMChannel reports whether channel is a valid PWM channel index.
func (m DeviceModel) ValidPWMChannel(channel int) bool {
	return channel >= 0 && channel < m.PWMChannels
}

// ValidEncoder reports whether index is a valid encoder slot.
func (m DeviceModel) ValidEncoder(index int) bool {
	return index >= 0 && index < m.EncoderCount
}
